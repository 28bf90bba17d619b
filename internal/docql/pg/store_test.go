package pg

import (
	"errors"
	"testing"

	"github.com/atlekbai/docql/internal/docql"
)

func TestSaveBatchReportsSavedID(t *testing.T) {
	var attempted []string
	docs := []docql.PendingDocument{
		{ID: "a", Body: docql.Document{"n": 1}},
		{Body: docql.Document{"bad": true}},
		{ID: "c", Body: docql.Document{"bad": true}},
		{Body: docql.Document{"n": 4}},
	}
	result := saveBatch("people", docs, func(id string, body docql.Document) error {
		attempted = append(attempted, id)
		if body["bad"] == true {
			return errors.New("rejected")
		}
		return nil
	})

	if len(attempted) != 4 {
		t.Fatalf("attempted = %v", attempted)
	}
	if len(result.DocumentIDs) != 2 || result.DocumentIDs[0] != "a" || result.DocumentIDs[1] != attempted[3] {
		t.Fatalf("document ids = %v, attempted %v", result.DocumentIDs, attempted)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %+v", result.Errors)
	}

	generated := result.Errors[0]
	if generated.Index != 1 || generated.ID == "" || generated.ID != attempted[1] {
		t.Fatalf("generated id error = %+v, attempted %v", generated, attempted)
	}
	if generated.Message != "rejected" {
		t.Fatalf("message = %q", generated.Message)
	}
	if given := result.Errors[1]; given.Index != 2 || given.ID != "c" {
		t.Fatalf("given id error = %+v", given)
	}
}

func TestSaveBatchGeneratesDistinctIDs(t *testing.T) {
	result := saveBatch("people", []docql.PendingDocument{{}, {}}, func(string, docql.Document) error { return nil })
	if len(result.DocumentIDs) != 2 || result.DocumentIDs[0] == "" || result.DocumentIDs[0] == result.DocumentIDs[1] {
		t.Fatalf("document ids = %v", result.DocumentIDs)
	}
	if result.Errors != nil {
		t.Fatalf("errors = %+v", result.Errors)
	}
}
