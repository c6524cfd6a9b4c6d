package campaign

import (
	"context"
	"fmt"
	"maps"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/render"
)

const (
	CampaignBulk = "bulk"
	RefBulk      = "bulk"
)

// BulkRecipient is one addressee of an operator broadcast. Variables
// override the broadcast-wide ones.
type BulkRecipient struct {
	Name      string      `json:"name"`
	Phone     string      `json:"phone"`
	Email     string      `json:"email"`
	Variables render.Vars `json:"variables,omitempty"`
}

// BulkRequest renders one template for many recipients on one channel.
type BulkRequest struct {
	TemplateCode  string          `json:"template_code"`
	Channel       channel.Channel `json:"channel"`
	Variables     render.Vars     `json:"variables,omitempty"`
	Recipients    []BulkRecipient `json:"recipients"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
}

// BulkSender sends operator broadcasts.
type BulkSender struct {
	base
}

func NewBulkSender(deps Deps) *BulkSender {
	return &BulkSender{base: newBase(deps, "bulk")}
}

// Send renders req's template per recipient and dispatches it. A missing
// template fails every recipient without any attempt.
func (b *BulkSender) Send(ctx context.Context, req BulkRequest) (*Result, error) {
	result := newResult(CampaignBulk)
	defer b.finish(result)

	tmpl, found, err := b.template(ctx, req.TemplateCode)
	if err != nil {
		return result, err
	}
	if !found {
		for range req.Recipients {
			result.record("", false, 0)
		}
		return result, nil
	}

	refType := req.ReferenceType
	if refType == "" {
		refType = RefBulk
	}

	err = fanOut(ctx, b.concurrency, req.Recipients, func(ctx context.Context, rcpt BulkRecipient) error {
		vars := render.Vars{"name": rcpt.Name}
		maps.Copy(vars, req.Variables)
		maps.Copy(vars, rcpt.Variables)

		sent, attempts, err := b.deliver(ctx, []dispatch.Request{{
			Channel:        req.Channel,
			RecipientPhone: rcpt.Phone,
			RecipientEmail: rcpt.Email,
			Subject:        subject(tmpl, vars, ""),
			Body:           render.Render(tmpl.Body, vars),
			TemplateCode:   tmpl.Code,
			ReferenceType:  refType,
			ReferenceID:    req.ReferenceID,
		}})
		result.record("", sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("bulk send %s: %w", req.TemplateCode, err)
	}
	return result, nil
}
