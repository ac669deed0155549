// Package schema derives tool input schemas from Go structs and
// decodes raw argument maps back into them. Tool-defining
// collaborators and test servers use it so argument shapes live in one
// place.
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/toolmux/toolmux/protocol"
)

// goTypeToSchemaType maps Go kinds to JSON schema type names.
func goTypeToSchemaType(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// FromStruct derives a ToolInputSchema from a struct's fields. The
// field name comes from the json tag, descriptions from a description
// tag, allowed values from an enum tag (comma separated). Non-pointer
// fields are required unless a required:"false" tag says otherwise;
// pointer fields are optional unless required:"true".
func FromStruct(v interface{}) protocol.ToolInputSchema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	props := map[string]protocol.PropertyDetail{}
	var required []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := strings.Split(jsonTag, ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}

		fieldType := field.Type
		isPtr := fieldType.Kind() == reflect.Ptr
		if isPtr {
			fieldType = fieldType.Elem()
		}

		isRequired := !isPtr
		switch field.Tag.Get("required") {
		case "true":
			isRequired = true
		case "false":
			isRequired = false
		}
		if isRequired {
			required = append(required, name)
		}

		var enum []interface{}
		if enumTag := field.Tag.Get("enum"); enumTag != "" {
			for _, value := range strings.Split(enumTag, ",") {
				enum = append(enum, strings.TrimSpace(value))
			}
		}

		props[name] = protocol.PropertyDetail{
			Type:        goTypeToSchemaType(fieldType.Kind()),
			Description: field.Tag.Get("description"),
			Enum:        enum,
			Format:      field.Tag.Get("format"),
		}
	}

	return protocol.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// DecodeArguments decodes a tool-call argument map into a typed
// struct, matching fields by json tag. A nil map decodes to the zero
// value.
func DecodeArguments[T any](arguments map[string]interface{}) (*T, error) {
	var args T
	if arguments == nil {
		return &args, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build argument decoder: %w", err)
	}
	if err := decoder.Decode(arguments); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return &args, nil
}
