package main

import (
	"bytes"
	"log/slog"
	"testing"

	"omnifetch/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name      string
		result    *config.ValidationResult
		wantErr   bool
		wantLines []string
	}{
		{
			name:   "clean",
			result: &config.ValidationResult{},
		},
		{
			name: "warnings only",
			result: &config.ValidationResult{
				Warnings: []config.ValidationWarning{{Field: "fetch.max_page_size", Message: "large", Hint: "lower it"}},
			},
			wantLines: []string{"configuration warning", "fetch.max_page_size"},
		},
		{
			name: "errors fail",
			result: &config.ValidationResult{
				Errors: []config.ValidationError{
					{Field: "database.driver", Message: "unsupported"},
					{Field: "schema.file", Message: "required"},
				},
			},
			wantErr:   true,
			wantLines: []string{"configuration error", "database.driver", "schema.file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := reportValidation(logger, tt.result)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "2 error(s)")
			} else {
				require.NoError(t, err)
			}
			for _, line := range tt.wantLines {
				assert.Contains(t, buf.String(), line)
			}
		})
	}
}
