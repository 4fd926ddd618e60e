package permissions

import "testing"

func TestNormalizeAndParse(t *testing.T) {
	got := NormalizePermissions([]string{" GET /v0/admin/events ", "", "GET /v0/admin/events", "DELETE /v0/admin/blockages/:client"})
	if len(got) != 2 || got[0] != "DELETE /v0/admin/blockages/:client" {
		t.Fatalf("unexpected normalized permissions %v", got)
	}

	raw, errMarshal := MarshalPermissions(got)
	if errMarshal != nil {
		t.Fatalf("marshal: %v", errMarshal)
	}
	if parsed := ParsePermissions(raw); len(parsed) != 2 {
		t.Fatalf("expected 2 permissions, got %v", parsed)
	}
	if parsed := ParsePermissions([]byte("{")); len(parsed) != 0 {
		t.Fatalf("expected malformed input to grant nothing, got %v", parsed)
	}
}

func TestValidatePermissions(t *testing.T) {
	if errValidate := ValidatePermissions([]string{Key("get", "/v0/admin/hazards")}); errValidate != nil {
		t.Fatalf("expected known permission, got %v", errValidate)
	}
	if errValidate := ValidatePermissions([]string{"GET /v0/admin/plans"}); errValidate == nil {
		t.Fatalf("expected unknown permission error")
	}
	if !HasPermission([]string{"GET /v0/admin/events"}, "GET /v0/admin/events") || HasPermission(nil, "") {
		t.Fatalf("unexpected HasPermission result")
	}
	if len(Definitions()) == 0 {
		t.Fatalf("expected definitions")
	}
}
