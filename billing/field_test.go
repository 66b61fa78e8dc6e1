package billing

import (
	"encoding/json"
	"testing"
)

func TestField_States(t *testing.T) {
	absent := Absent[int]()
	if !absent.IsAbsent() || absent.IsNull() {
		t.Error("Absent should be absent and not null")
	}
	if _, ok := absent.Get(); ok {
		t.Error("Absent should carry no value")
	}

	null := Null[int]()
	if null.IsAbsent() || !null.IsNull() {
		t.Error("Null should be present and null")
	}

	set := Set(0)
	if set.IsAbsent() || set.IsNull() {
		t.Error("Set should be present and not null")
	}
	if v, ok := set.Get(); !ok || v != 0 {
		t.Errorf("Set(0).Get() = %d, %v", v, ok)
	}

	var zero Field[string]
	if !zero.IsAbsent() {
		t.Error("zero Field should be absent")
	}
}

func TestDesiredEdit_DecodePresence(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantAbsent bool
		wantNull   bool
		wantItems  int
	}{
		{"key omitted", `{}`, true, false, 0},
		{"explicit null", `{"nextPhase":null}`, false, true, 0},
		{"explicit false", `{"nextPhase":false}`, false, true, 0},
		{"empty object", `{"nextPhase":{}}`, false, false, 0},
		{"with content", `{"nextPhase":{"items":[{"price":"price_a","quantity":2}]}}`, false, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var edit DesiredEdit
			if err := json.Unmarshal([]byte(tt.body), &edit); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if edit.NextPhase.IsAbsent() != tt.wantAbsent {
				t.Errorf("IsAbsent = %v, want %v", edit.NextPhase.IsAbsent(), tt.wantAbsent)
			}
			if edit.NextPhase.IsNull() != tt.wantNull {
				t.Errorf("IsNull = %v, want %v", edit.NextPhase.IsNull(), tt.wantNull)
			}
			v, _ := edit.NextPhase.Get()
			if len(v.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(v.Items), tt.wantItems)
			}
		})
	}
}

// Only null and false mean "remove the next phase"; other scalars are
// rejected rather than guessed at.
func TestDesiredEdit_RejectsOtherFalsyValues(t *testing.T) {
	for _, body := range []string{
		`{"nextPhase":0}`,
		`{"nextPhase":""}`,
		`{"nextPhase":true}`,
		`{"nextPhase":[]}`,
	} {
		var edit DesiredEdit
		if err := json.Unmarshal([]byte(body), &edit); err == nil {
			t.Errorf("%s: expected decode error, got %+v", body, edit.NextPhase)
		}
	}
}

func TestDesiredEdit_DecodeCurrentPhase(t *testing.T) {
	var edit DesiredEdit
	body := `{"currentPhaseUpdateParam":{"items":[{"price":"price_pro","billing_thresholds":{"usage_gte":10}}]}}`
	if err := json.Unmarshal([]byte(body), &edit); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if edit.CurrentPhase == nil || len(edit.CurrentPhase.Items) != 1 {
		t.Fatalf("current phase not decoded: %+v", edit.CurrentPhase)
	}
	if th := edit.CurrentPhase.Items[0].BillingThresholds; th == nil || th.UsageGTE != 10 {
		t.Errorf("item thresholds = %+v", th)
	}
	if !edit.NextPhase.IsAbsent() {
		t.Error("nextPhase should stay absent")
	}
}

func TestDesiredEdit_Encode(t *testing.T) {
	tests := []struct {
		name string
		edit DesiredEdit
		want string
	}{
		{"absent omitted", DesiredEdit{}, `{}`},
		{"null kept", DesiredEdit{NextPhase: Null[PhaseParams]()}, `{"nextPhase":null}`},
		{"value encoded", DesiredEdit{NextPhase: Set(PhaseParams{Items: []PhaseItemParams{{Price: "p"}}})}, `{"nextPhase":{"items":[{"price":"p"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.edit)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPriceRef_Unmarshal(t *testing.T) {
	var items []PhaseItem
	body := `[{"price":"price_a"},{"price":{"id":"price_b","product":"prod_b","lookup_key":"pro_monthly"}}]`
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if items[0].Price.Canonical() != "price_a" {
		t.Errorf("item 0 price = %q", items[0].Price.Canonical())
	}
	if items[1].Price.Canonical() != "price_b" || items[1].Price.Product != "prod_b" {
		t.Errorf("item 1 price = %+v", items[1].Price)
	}

	var bad PriceRef
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Error("expected error for numeric price")
	}
}
