package campaign

import (
	"context"
	"testing"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/render"
)

func TestBulkSender_MergesVariables(t *testing.T) {
	h := newHarness(day("2025-01-13"))
	h.templates["HOLIDAY"] = tmpl("HOLIDAY", "Hi {{name}}, {{batch}} is off on {{date}}. {{note}}")
	h.sms = newFakeAdapter(channel.SMS, "9000000002")

	res, err := NewBulkSender(h.deps()).Send(context.Background(), BulkRequest{
		TemplateCode: "HOLIDAY",
		Channel:      channel.SMS,
		Variables:    render.Vars{"date": "26 Jan", "batch": "NEET A", "note": "Enjoy"},
		Recipients: []BulkRecipient{
			{Name: "Asha", Phone: "9000000001", Variables: render.Vars{"note": "Revise chapter 4"}},
			{Name: "Ravi", Phone: "9000000002"},
		},
		ReferenceID: "holiday-2025-01-26",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("expected 2/1/1, got %s", res)
	}

	bodies := map[string]bool{}
	for _, b := range h.sms.sentBodies() {
		bodies[b] = true
	}
	if !bodies["Hi Asha, NEET A is off on 26 Jan. Revise chapter 4"] {
		t.Errorf("recipient variables should override broadcast ones, got %v", bodies)
	}
	if !bodies["Hi Ravi, NEET A is off on 26 Jan. Enjoy"] {
		t.Errorf("broadcast variables missing, got %v", bodies)
	}

	for _, row := range h.log.byChannel(channel.SMS) {
		if row.ReferenceType != RefBulk || row.ReferenceID == nil || *row.ReferenceID != "holiday-2025-01-26" {
			t.Errorf("unexpected reference %s %v", row.ReferenceType, row.ReferenceID)
		}
	}
}

func TestBulkSender_MissingTemplate(t *testing.T) {
	h := newHarness(day("2025-01-13"))

	res, err := NewBulkSender(h.deps()).Send(context.Background(), BulkRequest{
		TemplateCode: "NOPE",
		Channel:      channel.WhatsApp,
		Recipients:   []BulkRecipient{{Name: "Asha", Phone: "9000000001"}, {Name: "Ravi", Phone: "9000000002"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 2 || res.Attempts != 0 || h.log.len() != 0 {
		t.Errorf("expected every recipient failed without attempts, got %s and %d rows", res, h.log.len())
	}
}
