package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// ActivationNotifier emails a club owner when their tenant goes live.
type ActivationNotifier struct {
	sender       Sender
	from         string
	tenantDomain string
}

// NewActivationNotifier creates a notifier. Tenant URLs are built as
// https://<subdomain>.<tenantDomain>.
func NewActivationNotifier(sender Sender, from, tenantDomain string) *ActivationNotifier {
	return &ActivationNotifier{
		sender:       sender,
		from:         from,
		tenantDomain: strings.Trim(strings.TrimSpace(tenantDomain), "."),
	}
}

// NotifyTenantActivated sends the activation email.
func (n *ActivationNotifier) NotifyTenantActivated(ctx context.Context, tenant *registry.Tenant, contactEmail string) error {
	if tenant == nil || strings.TrimSpace(contactEmail) == "" {
		return nil
	}
	data := ActivationData{
		ClubName: tenant.DisplayName,
		ClubURL:  fmt.Sprintf("https://%s.%s", tenant.Subdomain, n.tenantDomain),
	}
	html, text, err := RenderActivationEmail(data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		From:    n.from,
		To:      contactEmail,
		Subject: data.ClubName + " is live",
		HTML:    html,
		Text:    text,
	})
}
