package buildrequest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/batch.schema.json
var batchSchema []byte

// SchemaError lists every problem found while validating a batch payload.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid payload: " + strings.Join(e.Problems, "; ")
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// ValidateBatch checks a raw batch payload against the embedded JSON schema.
func ValidateBatch(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &MissingFieldError{Field: "buildRequests"}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(batchSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return &SchemaError{Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &SchemaError{Problems: problems}
}

// ParseBatch validates data and decodes it into a Batch.
func ParseBatch(data []byte) (Batch, error) {
	var batch Batch
	if err := ValidateBatch(data); err != nil {
		return batch, err
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}
