package validator

import "testing"

type sampleRequest struct {
	Pin    string `json:"pin" validate:"notblank,max=64"`
	Status string `json:"status" validate:"card_status"`
	Count  int    `json:"count" validate:"gte=1,lte=1000"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	errs := Validate(sampleRequest{Pin: "   ", Status: "Lost", Count: 0})

	for _, field := range []string{"pin", "status", "count"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("expected error for %q, got %+v", field, errs)
		}
	}
}

func TestValidateAcceptsGoodRequest(t *testing.T) {
	if errs := Validate(sampleRequest{Pin: "ABCD-1234", Status: "Active", Count: 10}); errs != nil {
		t.Fatalf("expected no errors, got %+v", errs)
	}
	if errs := Validate(sampleRequest{Pin: "ABCD-1234", Count: 1}); errs != nil {
		t.Fatalf("expected empty status to pass, got %+v", errs)
	}
}
