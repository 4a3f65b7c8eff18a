package report

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping sections, keyed the way the mapping file spells them
const (
	SectionByTechnology = "byTechnology"
	SectionByCategory   = "byCategory"
	SectionByGroup      = "byGroup"
	SectionByCategoryID = "byCategoryId"
	SectionByGroupID    = "byGroupId"
)

var mappingSections = []string{
	SectionByTechnology,
	SectionByCategory,
	SectionByGroup,
	SectionByCategoryID,
	SectionByGroupID,
}

var allowedPriorities = map[string]bool{"high": true, "medium": true, "low": true}

// Item is one recommendation a mapping can trigger
type Item struct {
	Title       string   `yaml:"title"`
	Product     string   `yaml:"product"`
	Priority    string   `yaml:"priority"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Tags        []string `yaml:"tags"`
	Reason      string   `yaml:"reason"`
	Offer       string   `yaml:"offer"`
}

// Mapping ties technologies, categories and groups to recommendations.
// The file may be JSON or YAML.
type Mapping struct {
	ByTechnology map[string][]Item `yaml:"byTechnology"`
	ByCategory   map[string][]Item `yaml:"byCategory"`
	ByGroup      map[string][]Item `yaml:"byGroup"`
	ByCategoryID map[string][]Item `yaml:"byCategoryId"`
	ByGroupID    map[string][]Item `yaml:"byGroupId"`
}

// MappingError lists every problem found in a mapping file
type MappingError struct {
	Path     string
	Problems []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("recommendation mapping %s is invalid: %s", e.Path, strings.Join(e.Problems, "; "))
}

// LoadMapping reads and validates a mapping file. Any failure returns an
// empty Mapping together with the error, so callers can log and carry on.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Mapping{}, fmt.Errorf("reading recommendation mapping: %w", err)
	}
	m, err := ParseMapping(data)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			me.Path = path
		}
		return &Mapping{}, err
	}
	return m, nil
}

// ParseMapping validates and decodes mapping bytes
func ParseMapping(data []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing recommendation mapping: %w", err)
	}
	if problems := ValidateMapping(&doc); len(problems) > 0 {
		return nil, &MappingError{Problems: problems}
	}
	var m Mapping
	if err := doc.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding recommendation mapping: %w", err)
	}
	return &m, nil
}

// ValidateMapping checks a parsed mapping document and returns one message
// per problem
func ValidateMapping(doc *yaml.Node) []string {
	root := doc
	if root != nil && root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root == nil || root.Kind != yaml.MappingNode {
		return []string{"Mapping must be an object at the root."}
	}

	var problems []string
	for _, section := range mappingSections {
		value := lookup(root, section)
		if value == nil || isNull(value) {
			continue
		}
		if value.Kind != yaml.MappingNode {
			problems = append(problems, section+" must be an object of { key: RecommendationItem[] }.")
			continue
		}
		for i := 0; i+1 < len(value.Content); i += 2 {
			path := section + "." + strconv.Quote(value.Content[i].Value)
			items := value.Content[i+1]
			if items.Kind != yaml.SequenceNode {
				problems = append(problems, path+" must be an array of RecommendationItem.")
				continue
			}
			for j, item := range items.Content {
				problems = append(problems, validateItem(item, fmt.Sprintf("%s[%d]", path, j))...)
			}
		}
	}
	return problems
}

func validateItem(item *yaml.Node, path string) []string {
	if item.Kind != yaml.MappingNode {
		return []string{path + " must be an object."}
	}
	var problems []string

	if !isNonEmptyString(lookup(item, "title")) {
		problems = append(problems, path+".title is required.")
	}
	if !isNonEmptyString(lookup(item, "product")) {
		problems = append(problems, path+".product is required.")
	}
	if p := lookup(item, "priority"); !isNonEmptyString(p) || !allowedPriorities[p.Value] {
		problems = append(problems, path+".priority must be one of: high, medium, low.")
	}

	for _, field := range []string{"description", "url", "reason", "offer"} {
		if v := lookup(item, field); v != nil && !isNull(v) && !isString(v) {
			problems = append(problems, fmt.Sprintf("%s.%s must be a string if present.", path, field))
		}
	}

	if tags := lookup(item, "tags"); tags != nil && !isNull(tags) {
		if tags.Kind != yaml.SequenceNode {
			problems = append(problems, path+".tags must be an array of strings if present.")
		} else {
			for _, t := range tags.Content {
				if !isString(t) {
					problems = append(problems, path+".tags must contain only strings.")
					break
				}
			}
		}
	}
	return problems
}

// lookup returns the value node for key in a mapping node
func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func isString(n *yaml.Node) bool {
	return n != nil && n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str"
}

func isNonEmptyString(n *yaml.Node) bool {
	return isString(n) && strings.TrimSpace(n.Value) != ""
}
