package cmd

import (
	"fmt"
	"io"

	"github.com/tidwall/sjson"
)

// writeJSONLine writes a flat JSON object built from key/value pairs.
func writeJSONLine(w io.Writer, pairs ...interface{}) error {
	line := []byte(`{}`)

	for i := 0; i+1 < len(pairs); i += 2 {
		var err error

		line, err = sjson.SetBytes(line, pairs[i].(string), pairs[i+1])
		if err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, string(line))
	return err
}
