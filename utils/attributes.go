// Package utils contains small helpers shared by the board adapters, the ranging service and the
// command line tool.
package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// TransformAttributeMapToStruct decodes loosely typed attributes, as read from a JSON or YAML
// file, into the json-tagged struct pointed to by to. Unknown keys are rejected.
func TransformAttributeMapToStruct(to interface{}, attributes map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      to,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(attributes); err != nil {
		return errors.Wrap(err, "decoding attributes")
	}
	return nil
}
