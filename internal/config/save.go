package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveScheduler replaces the scheduler section of the config file.
// Comments and formatting in other sections are preserved by editing the
// yaml.Node tree rather than re-marshaling Config.
func SaveScheduler(configPath string, sched SchedulerConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	schedNode, err := buildSchedulerNode(sched)
	if err != nil {
		return fmt.Errorf("building scheduler node: %w", err)
	}
	setSection(&doc, "scheduler", schedNode)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// setSection replaces key in the document's root mapping, or appends it.
func setSection(doc *yaml.Node, key string, value *yaml.Node) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == key {
			// Keep the comment attached to the old value
			value.HeadComment = root.Content[i+1].HeadComment
			root.Content[i+1] = value
			return
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
}

func buildSchedulerNode(sched SchedulerConfig) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(sched); err != nil {
		return nil, err
	}
	return &node, nil
}
