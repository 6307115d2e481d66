package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect schema files",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Check a YAML schema file for structural problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := loadSchemaFile(args[0])
		if err != nil {
			return err
		}
		var problems []string
		checkNode(node, "$", &problems)
		if len(problems) > 0 {
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), "problem:", p)
			}
			return fmt.Errorf("%d problem(s) in %s", len(problems), args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d node(s))\n", args[0], countNodes(node))
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaCheckCmd)
	rootCmd.AddCommand(schemaCmd)
}

func checkNode(n *schema.Node, path string, problems *[]string) {
	if n == nil {
		*problems = append(*problems, path+": nil node")
		return
	}
	switch n.Kind {
	case schema.KindObject:
		for _, req := range n.Required {
			if _, ok := n.Properties[req]; !ok {
				*problems = append(*problems, fmt.Sprintf("%s: required field %q has no property definition", path, req))
			}
		}
		for name, child := range n.Properties {
			checkNode(child, path+"."+name, problems)
		}
	case schema.KindArray:
		if n.Items == nil {
			*problems = append(*problems, path+": array without items")
			return
		}
		checkNode(n.Items, path+"[]", problems)
	case schema.KindString:
		// Enum values are only meaningful on strings.
	case schema.KindNumber, schema.KindBoolean:
		if len(n.Enum) > 0 {
			*problems = append(*problems, fmt.Sprintf("%s: enum on non-string kind %q", path, n.Kind))
		}
	default:
		*problems = append(*problems, fmt.Sprintf("%s: unknown kind %q", path, n.Kind))
	}
	if len(n.Enum) > 0 && n.Default != nil {
		if s, ok := n.Default.(string); ok && !containsString(n.Enum, s) {
			*problems = append(*problems, fmt.Sprintf("%s: default %q not in enum [%s]", path, s, strings.Join(n.Enum, ", ")))
		}
	}
}

func countNodes(n *schema.Node) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Properties {
		total += countNodes(child)
	}
	total += countNodes(n.Items)
	return total
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
