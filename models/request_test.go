package models

import (
	"errors"
	"testing"
)

func TestBulkRequestClamp(t *testing.T) {
	tests := []struct {
		name    string
		req     BulkRequest
		want    int
		wantErr bool
	}{
		{"default when unset", BulkRequest{}, 10, false},
		{"kept under cap", BulkRequest{MaxRecords: 7}, 7, false},
		{"capped", BulkRequest{MaxRecords: 500}, 50, false},
		{"ids at cap", BulkRequest{RecordIDs: make([]int64, 50)}, 10, false},
		{"too many ids", BulkRequest{RecordIDs: make([]int64, 51)}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Clamp(10, 50)
			if tt.wantErr {
				var se *ScanError
				if !errors.As(err, &se) || se.Code != ErrCodeLimitExceeded {
					t.Fatalf("err = %v, want LIMIT_EXCEEDED", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Clamp: %v", err)
			}
			if req.MaxRecords != tt.want {
				t.Errorf("MaxRecords = %d, want %d", req.MaxRecords, tt.want)
			}
		})
	}
}

func TestListFilterDefaults(t *testing.T) {
	f := ListFilter{Page: 0, Limit: 1000}
	f.Defaults()
	if f.Page != 1 || f.Limit != MaxPageLimit {
		t.Errorf("got page=%d limit=%d", f.Page, f.Limit)
	}
	if f.Offset() != 0 {
		t.Errorf("Offset = %d, want 0", f.Offset())
	}
	f.Page = 3
	if f.Offset() != 2*MaxPageLimit {
		t.Errorf("Offset = %d, want %d", f.Offset(), 2*MaxPageLimit)
	}
}
