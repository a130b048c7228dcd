package gcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsPermanentGeminiError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection reset"), false},
		{"deadline", context.DeadlineExceeded, false},
		{"api bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, true},
		{"api forbidden wrapped", fmt.Errorf("GenAI generate failed: %w", genai.APIError{Code: 403}), true},
		{"api unknown model", genai.APIError{Code: 404, Status: "NOT_FOUND"}, true},
		{"api rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, false},
		{"api unavailable", genai.APIError{Code: 503}, false},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "prompt too long"), true},
		{"grpc unauthenticated wrapped", fmt.Errorf("vertex: %w", status.Error(codes.Unauthenticated, "bad token")), true},
		{"grpc failed precondition", status.Error(codes.FailedPrecondition, "region not enabled"), true},
		{"grpc unavailable", status.Error(codes.Unavailable, "try again"), false},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPermanentGeminiError(tc.err))
		})
	}
}
