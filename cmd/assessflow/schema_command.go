package main

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"assessflow/internal/config"
	"assessflow/internal/events"
	"assessflow/internal/recovery"
	"assessflow/internal/workflow"
)

type schemaTarget struct {
	value    any
	fieldTag string
}

var schemaTargets = map[string]schemaTarget{
	"workflow": {value: &workflow.Workflow{}},
	"event":    {value: &events.Event{}},
	"error":    {value: &recovery.ErrorRecord{}},
	"config":   {value: &config.Config{}, fieldTag: "toml"},
}

func schemaNames() []string {
	names := make([]string, 0, len(schemaTargets))
	for name := range schemaTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "schema <" + strings.Join(schemaNames(), "|") + ">",
		Short:       "Print the JSON schema of a record type",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToLower(strings.TrimSpace(args[0]))
			target, ok := schemaTargets[name]
			if !ok {
				return fmt.Errorf("unknown schema %q (choose from %s)", args[0], strings.Join(schemaNames(), ", "))
			}
			return writeJSON(cmd, reflectSchema(target))
		},
	}
}

func reflectSchema(target schemaTarget) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   target.fieldTag,
		Mapper:         enumSchema,
	}
	return reflector.Reflect(target.value)
}

var (
	categoryType = reflect.TypeOf(recovery.Category(0))
	severityType = reflect.TypeOf(recovery.Severity(0))
)

// enumSchema describes the text-marshalled error taxonomy as string enums.
func enumSchema(t reflect.Type) *jsonschema.Schema {
	switch t {
	case categoryType:
		values := make([]any, 0, len(recovery.Categories()))
		for _, c := range recovery.Categories() {
			values = append(values, c.String())
		}
		return &jsonschema.Schema{Type: "string", Enum: values}
	case severityType:
		values := []any{}
		for _, s := range []recovery.Severity{recovery.SeverityLow, recovery.SeverityMedium, recovery.SeverityHigh, recovery.SeverityCritical} {
			values = append(values, s.String())
		}
		return &jsonschema.Schema{Type: "string", Enum: values}
	default:
		return nil
	}
}
