package blob

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"

	"bobbrain/internal/domain/vectorindex"
)

func TestMinIOReadErrMapping(t *testing.T) {
	s := &MinIOStore{bucket: "bob", object: "vector-index.snapshot"}

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{"missing object", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, false},
		{"network", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.readErr(tt.err)
			if errors.Is(got, vectorindex.ErrSnapshotNotFound) != tt.wantNotFound {
				t.Fatalf("readErr(%v) = %v, wantNotFound=%v", tt.err, got, tt.wantNotFound)
			}
			if !tt.wantNotFound && got == nil {
				t.Fatalf("readErr(%v) returned nil", tt.err)
			}
		})
	}
}

func TestMinIOReadErrWrapsCause(t *testing.T) {
	s := &MinIOStore{bucket: "bob", object: "vector-index.snapshot"}
	cause := errors.New("connection refused")
	if err := s.readErr(cause); !errors.Is(err, cause) {
		t.Fatalf("readErr = %v, want wrapped cause", err)
	}
}
