// Package source reads flag configuration documents from YAML.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/flagfile/internal/core"
)

// DefaultLocations are searched, in order, relative to the working directory
// when no explicit path is configured.
var DefaultLocations = []string{
	".devbolt/flags.yml",
	".devbolt/flags.yaml",
	"devbolt.yml",
	"devbolt.yaml",
	".devbolt.yml",
	".devbolt.yaml",
}

// ErrNotFound is wrapped by Find when no configuration file exists.
var ErrNotFound = errors.New("flag configuration file not found")

const (
	maxAliasDepth = 64

	// A document may expand through aliases to this many times its own node
	// count, and never below minNodeBudget nodes.
	aliasExpansionRatio = 100
	minNodeBudget       = 10_000
)

// Parse decodes a YAML document into a raw tree of *core.Map, []any and
// scalars, preserving key order. Anchors, aliases and merge keys are
// resolved. Syntax errors, empty documents, duplicate keys and documents whose
// aliases expand past a fixed multiple of their size are reported as
// *core.ConfigParseError. Top-level keys that are not strings are rejected
// with a *core.ValidationError on field "flagName".
func Parse(data []byte) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &core.ConfigParseError{Message: "failed to parse YAML", Err: err}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, &core.ConfigParseError{Message: "configuration document is empty"}
		}
		root = root.Content[0]
	}
	if root.Kind == 0 || isNull(root) {
		return nil, &core.ConfigParseError{Message: "configuration document is empty"}
	}
	if root.Kind != yaml.MappingNode {
		return nil, &core.ConfigParseError{Message: "config must be a YAML mapping"}
	}

	c := &converter{budget: max(minNodeBudget, aliasExpansionRatio*countNodes(root))}
	return c.convertMapping(root, 0, true)
}

// Decode parses and validates data.
func Decode(data []byte) (*core.FlagsConfig, error) {
	tree, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return core.Validate(tree)
}

// ReadFile reads and decodes the configuration at path.
func ReadFile(path string) (*core.FlagsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.ConfigParseError{Message: "config file not found: " + path, Err: err}
		}
		return nil, &core.ConfigParseError{Message: "failed to read config file " + path, Err: err}
	}
	return Decode(data)
}

// Find resolves the configuration path relative to the working directory.
func Find(path string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return FindFrom(wd, path)
}

// FindFrom resolves the configuration path relative to dir. A non-empty path
// must exist; otherwise DefaultLocations are tried in order. The result is
// absolute.
func FindFrom(dir, path string) (string, error) {
	if path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", &core.ConfigParseError{Message: "config file not found: " + path, Err: err}
		}
		return filepath.Abs(path)
	}

	for _, location := range DefaultLocations {
		candidate := filepath.Join(dir, filepath.FromSlash(location))
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return filepath.Abs(candidate)
	}

	return "", &core.ConfigParseError{
		Message: "flag configuration file not found, searched:\n  - " + strings.Join(DefaultLocations, "\n  - "),
		Err:     ErrNotFound,
	}
}

// Encode renders cfg as YAML with flags in configuration order.
func Encode(cfg *core.FlagsConfig) ([]byte, error) {
	root := mappingNode()
	for name, flag := range cfg.All() {
		value, err := flagNode(flag)
		if err != nil {
			return nil, fmt.Errorf("encode flag %s: %w", name, err)
		}
		root.Content = append(root.Content, stringNode(name), value)
	}
	if len(root.Content) == 0 {
		root.Style = yaml.FlowStyle
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func flagNode(flag core.FlagConfig) (*yaml.Node, error) {
	node := mappingNode()
	add := func(key string, value any) error {
		var encoded yaml.Node
		if err := encoded.Encode(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		node.Content = append(node.Content, stringNode(key), &encoded)
		return nil
	}

	if err := add("enabled", flag.Enabled); err != nil {
		return nil, err
	}
	if flag.Description != "" {
		if err := add("description", flag.Description); err != nil {
			return nil, err
		}
	}
	if flag.Rollout != nil {
		if err := add("rollout", flag.Rollout); err != nil {
			return nil, err
		}
	}
	if len(flag.Targeting) > 0 {
		rules := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, rule := range flag.Targeting {
			item, err := ruleNode(rule)
			if err != nil {
				return nil, err
			}
			rules.Content = append(rules.Content, item)
		}
		node.Content = append(node.Content, stringNode("targeting"), rules)
	}
	if len(flag.Environments) > 0 {
		if err := add("environments", flag.Environments); err != nil {
			return nil, err
		}
	}
	if len(flag.Metadata) > 0 {
		if err := add("metadata", flag.Metadata); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// ruleNode writes value explicitly; yaml omitempty would drop false and 0.
func ruleNode(rule core.TargetingRule) (*yaml.Node, error) {
	fields := []struct {
		key   string
		value any
		skip  bool
	}{
		{key: "attribute", value: rule.Attribute},
		{key: "operator", value: string(rule.Operator)},
		{key: "value", value: rule.Value, skip: rule.Operator.TakesValues()},
		{key: "values", value: rule.Values, skip: !rule.Operator.TakesValues()},
		{key: "enabled", value: rule.Enabled},
		{key: "description", value: rule.Description, skip: rule.Description == ""},
	}

	node := mappingNode()
	for _, field := range fields {
		if field.skip {
			continue
		}
		var encoded yaml.Node
		if err := encoded.Encode(field.value); err != nil {
			return nil, fmt.Errorf("targeting %s: %w", field.key, err)
		}
		node.Content = append(node.Content, stringNode(field.key), &encoded)
	}
	return node, nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// countNodes counts the nodes written in the document, without following
// aliases.
func countNodes(node *yaml.Node) int {
	n := 1
	for _, child := range node.Content {
		n += countNodes(child)
	}
	return n
}

// converter turns a yaml.Node tree into the raw tree Validate consumes.
// Aliases are expanded in place, so every converted node is charged against
// budget.
type converter struct {
	budget int
}

func (c *converter) charge(node *yaml.Node, depth int) error {
	if depth > maxAliasDepth {
		return parseErrorAt(node, "document nesting is too deep")
	}
	c.budget--
	if c.budget < 0 {
		return parseErrorAt(node, "document expands to too many nodes through aliases")
	}
	return nil
}

func (c *converter) convert(node *yaml.Node, depth int) (any, error) {
	if node.Kind == yaml.MappingNode {
		return c.convertMapping(node, depth, false)
	}
	if err := c.charge(node, depth); err != nil {
		return nil, err
	}

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return c.convert(node.Content[0], depth+1)
	case yaml.AliasNode:
		return c.convert(node.Alias, depth+1)
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := c.convert(child, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case yaml.ScalarNode:
		return scalar(node)
	default:
		return nil, parseErrorAt(node, fmt.Sprintf("unsupported YAML node kind %d", node.Kind))
	}
}

// convertMapping converts a mapping node. flagKeys marks the top-level
// mapping, whose keys, merged ones included, are flag names and must be
// strings.
func (c *converter) convertMapping(node *yaml.Node, depth int, flagKeys bool) (*core.Map, error) {
	if err := c.charge(node, depth); err != nil {
		return nil, err
	}

	out := core.NewMap()
	explicit := make(map[string]struct{}, len(node.Content)/2)
	var merges []*yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if isMergeKey(key) {
			merges = append(merges, value)
			continue
		}
		if key.Kind != yaml.ScalarNode {
			return nil, parseErrorAt(key, "mapping keys must be scalars")
		}
		if flagKeys {
			if err := checkFlagKey(key); err != nil {
				return nil, err
			}
		}
		if _, dup := explicit[key.Value]; dup {
			return nil, parseErrorAt(key, fmt.Sprintf("duplicate key %q", key.Value))
		}
		explicit[key.Value] = struct{}{}

		converted, err := c.convert(value, depth+1)
		if err != nil {
			return nil, err
		}
		out.Set(key.Value, converted)
	}

	for _, merge := range merges {
		sources, err := c.mergeSources(merge, depth, flagKeys)
		if err != nil {
			return nil, err
		}
		for _, source := range sources {
			for _, key := range source.Keys() {
				if _, ok := explicit[key]; ok {
					continue
				}
				if _, ok := out.Get(key); ok {
					continue
				}
				value, _ := source.Get(key)
				out.Set(key, value)
			}
		}
	}

	return out, nil
}

// mergeSources resolves the value of a "<<" key into the mappings it names.
// Earlier mappings in a sequence take precedence over later ones.
func (c *converter) mergeSources(node *yaml.Node, depth int, flagKeys bool) ([]*core.Map, error) {
	target := node
	if target.Kind == yaml.AliasNode {
		target = target.Alias
	}

	switch target.Kind {
	case yaml.MappingNode:
		converted, err := c.convertMapping(target, depth+1, flagKeys)
		if err != nil {
			return nil, err
		}
		return []*core.Map{converted}, nil
	case yaml.SequenceNode:
		sources := make([]*core.Map, 0, len(target.Content))
		for _, item := range target.Content {
			resolved := item
			if resolved.Kind == yaml.AliasNode {
				resolved = resolved.Alias
			}
			if resolved.Kind != yaml.MappingNode {
				return nil, parseErrorAt(item, "merge key values must be mappings")
			}
			converted, err := c.convertMapping(resolved, depth+1, flagKeys)
			if err != nil {
				return nil, err
			}
			sources = append(sources, converted)
		}
		return sources, nil
	default:
		return nil, parseErrorAt(node, "merge key values must be mappings")
	}
}

func scalar(node *yaml.Node) (any, error) {
	if isNull(node) {
		return nil, nil
	}
	var value any
	if err := node.Decode(&value); err != nil {
		return nil, parseErrorAt(node, err.Error())
	}
	if _, ok := value.(time.Time); ok {
		return node.Value, nil
	}
	return value, nil
}

func checkFlagKey(key *yaml.Node) error {
	if key.ShortTag() == "!!str" {
		return nil
	}
	value, err := scalar(key)
	if err != nil {
		value = key.Value
	}
	return &core.ValidationError{
		Field:   "flagName",
		Value:   value,
		Message: fmt.Sprintf("line %d: flag name must be a non-empty string, got %s", key.Line, key.ShortTag()),
	}
}

func isMergeKey(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!merge"
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}

func parseErrorAt(node *yaml.Node, message string) *core.ConfigParseError {
	return &core.ConfigParseError{Message: fmt.Sprintf("line %d: %s", node.Line, message)}
}
