package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/herald/internal/app"
	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/render"
)

type sendOptions struct {
	channel       string
	phone         string
	email         string
	template      string
	subject       string
	body          string
	vars          []string
	referenceType string
	referenceID   string
}

type sendResult struct {
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

func sendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message and log the attempt",
		Long: `Send one message through a channel. The attempt is written to the
delivery log like any other.

Examples:
  heraldctl send --channel sms --phone 9876543210 --body "Centre closed today"
  heraldctl send --channel email --email parent@example.com --template HOLIDAY --var date=26-Jan`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, vars, err := opts.validate()
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				req, err := opts.request(cmd.Context(), a, ch, vars)
				if err != nil {
					return err
				}

				out, err := a.Dispatcher.Send(cmd.Context(), req)
				res := sendResult{Channel: ch.String(), Status: "sent", ProviderRef: out.ProviderRef}
				if err != nil {
					var derr *dispatch.Error
					if errors.Is(err, db.ErrStoreUnavailable) || !errors.As(err, &derr) {
						return err
					}
					res.Status = "failed"
					res.Reason = derr.Reason
				}
				if oerr := outputResult(cmd.OutOrStdout(), res, outputFmt); oerr != nil {
					return oerr
				}
				if res.Status != "sent" {
					return fmt.Errorf("send failed: %s", res.Reason)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.channel, "channel", "", "Channel: whatsapp, sms or email")
	f.StringVar(&opts.phone, "phone", "", "Recipient phone for whatsapp and sms")
	f.StringVar(&opts.email, "email", "", "Recipient email address")
	f.StringVar(&opts.template, "template", "", "Template code")
	f.StringVar(&opts.subject, "subject", "", "Email subject; overrides the template subject")
	f.StringVar(&opts.body, "body", "", "Message body when no template is given")
	f.StringArrayVar(&opts.vars, "var", nil, "Template variable as key=value (repeatable)")
	f.StringVar(&opts.referenceType, "reference-type", "manual", "Reference type recorded on the delivery")
	f.StringVar(&opts.referenceID, "reference-id", "", "Reference ID recorded on the delivery")
	_ = cmd.MarkFlagRequired("channel")

	return cmd
}

// validate checks everything that does not need the store.
func (o sendOptions) validate() (channel.Channel, render.Vars, error) {
	ch, ok := channel.Parse(o.channel)
	if !ok {
		return "", nil, fmt.Errorf("unknown channel %q", o.channel)
	}
	if o.template == "" && strings.TrimSpace(o.body) == "" {
		return "", nil, errors.New("either --template or --body is required")
	}
	vars, err := parseVars(o.vars)
	if err != nil {
		return "", nil, err
	}
	return ch, vars, nil
}

func (o sendOptions) request(ctx context.Context, a *app.App, ch channel.Channel, vars render.Vars) (dispatch.Request, error) {
	req := dispatch.Request{
		Channel:        ch,
		RecipientPhone: o.phone,
		RecipientEmail: o.email,
		Subject:        render.Render(o.subject, vars),
		Body:           render.Render(o.body, vars),
		ReferenceType:  o.referenceType,
		ReferenceID:    o.referenceID,
	}
	if o.template == "" {
		return req, nil
	}

	t, err := a.Templates.Get(ctx, o.template)
	if err != nil {
		return req, err
	}
	req.TemplateCode = t.Code
	req.Body = render.Render(t.Body, vars)
	if req.Subject == "" && t.Subject != nil {
		req.Subject = render.Render(*t.Subject, vars)
	}
	return req, nil
}

func parseVars(pairs []string) (render.Vars, error) {
	vars := make(render.Vars, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", pair)
		}
		vars[k] = v
	}
	return vars, nil
}
