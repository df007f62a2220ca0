package assessment

import (
	"context"
	"strings"

	"golang.org/x/net/idna"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathDomains           = "/domains"
	pathDomainAuth        = "/admin/exchange/domainAuthentication"
	pathMailboxForwarding = "/admin/exchange/mailboxes?$select=userPrincipalName,forwardingSmtpAddress"
)

var (
	checkSPF = modules.Check{
		ID:          "EXO-001",
		Title:       "SPF records are published for all mail domains",
		Severity:    model.SeverityHigh,
		Description: "A valid SPF record lets receivers reject mail spoofing the domain.",
		Remediation: "Publish a TXT record starting with v=spf1 that ends in -all or ~all.",
	}
	checkDKIM = modules.Check{
		ID:          "EXO-002",
		Title:       "DKIM signing is enabled for all mail domains",
		Severity:    model.SeverityMedium,
		Description: "DKIM signatures let receivers verify message integrity and origin.",
		Remediation: "Enable DKIM signing for each accepted domain.",
	}
	checkDMARC = modules.Check{
		ID:          "EXO-003",
		Title:       "DMARC is enforced for all mail domains",
		Severity:    model.SeverityHigh,
		Description: "A DMARC policy of quarantine or reject instructs receivers to act on failed authentication.",
		Remediation: "Publish a DMARC record with p=quarantine or p=reject.",
	}
	checkExternalForwarding = modules.Check{
		ID:          "EXO-004",
		Title:       "Mailboxes do not forward to external domains",
		Severity:    model.SeverityHigh,
		Description: "Automatic external forwarding is a common exfiltration path after account compromise.",
		Remediation: "Remove external forwarding and block it in the outbound spam policy.",
	}
)

type mailDomain struct {
	ID                string   `json:"id"`
	IsVerified        bool     `json:"isVerified"`
	SupportedServices []string `json:"supportedServices"`
}

type domainAuth struct {
	Domain      string `json:"domain"`
	SPF         string `json:"spf"`
	DKIMEnabled bool   `json:"dkimEnabled"`
	DMARCPolicy string `json:"dmarcPolicy"`
}

type mailboxForwarding struct {
	UserPrincipalName     string `json:"userPrincipalName"`
	ForwardingSMTPAddress string `json:"forwardingSmtpAddress"`
}

// ExchangeModule checks mail authentication and forwarding.
type ExchangeModule struct{ base }

func (m *ExchangeModule) Domain() model.Domain { return model.DomainExchangeEmail }

func (m *ExchangeModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *ExchangeModule) evaluate(c *modules.Collector) {
	raw, ok := c.List(pathDomains, true)
	if !ok {
		return
	}
	accepted := map[string]struct{}{}
	for _, d := range modules.Decode[mailDomain](c, pathDomains, raw) {
		if !d.IsVerified || !contains(d.SupportedServices, "Email") {
			continue
		}
		name, err := NormalizeDomain(d.ID)
		if err != nil {
			c.Warn("domain %q: %v", d.ID, err)
			continue
		}
		accepted[name] = struct{}{}
	}

	if raw, ok := c.List(pathDomainAuth, false); ok {
		var noSPF, noDKIM, noDMARC []string
		seen := map[string]struct{}{}
		for _, a := range modules.Decode[domainAuth](c, pathDomainAuth, raw) {
			name, err := NormalizeDomain(a.Domain)
			if err != nil {
				c.Warn("domain %q: %v", a.Domain, err)
				continue
			}
			if _, ok := accepted[name]; !ok {
				continue
			}
			seen[name] = struct{}{}
			if !validSPF(a.SPF) {
				noSPF = append(noSPF, name)
			}
			if !a.DKIMEnabled {
				noDKIM = append(noDKIM, name)
			}
			if p := strings.ToLower(a.DMARCPolicy); p != "quarantine" && p != "reject" {
				noDMARC = append(noDMARC, name)
			}
		}
		for name := range accepted {
			if _, ok := seen[name]; !ok {
				noSPF = append(noSPF, name)
				noDKIM = append(noDKIM, name)
				noDMARC = append(noDMARC, name)
			}
		}
		c.Evaluate(checkSPF, len(noSPF) == 0, sorted(noSPF))
		c.Evaluate(checkDKIM, len(noDKIM) == 0, sorted(noDKIM))
		c.Evaluate(checkDMARC, len(noDMARC) == 0, sorted(noDMARC))
	}

	if raw, ok := c.List(pathMailboxForwarding, false); ok {
		var external []string
		for _, mb := range modules.Decode[mailboxForwarding](c, pathMailboxForwarding, raw) {
			if mb.ForwardingSMTPAddress == "" {
				continue
			}
			addr := strings.TrimPrefix(strings.ToLower(mb.ForwardingSMTPAddress), "smtp:")
			at := strings.LastIndex(addr, "@")
			if at < 0 {
				continue
			}
			target, err := NormalizeDomain(addr[at+1:])
			if err != nil {
				external = append(external, mb.UserPrincipalName)
				continue
			}
			if _, internal := accepted[target]; !internal {
				external = append(external, mb.UserPrincipalName)
			}
		}
		c.Evaluate(checkExternalForwarding, len(external) == 0, external)
	}
}

// NormalizeDomain lower-cases a domain and converts internationalized labels
// to their ASCII form so "Bücher.Example" and "xn--bcher-kva.example" match.
func NormalizeDomain(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	return idna.Lookup.ToASCII(strings.ToLower(name))
}

func validSPF(record string) bool {
	r := strings.ToLower(strings.TrimSpace(record))
	if !strings.HasPrefix(r, "v=spf1") {
		return false
	}
	return strings.HasSuffix(r, "-all") || strings.HasSuffix(r, "~all")
}
