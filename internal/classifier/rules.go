package classifier

import (
	"strings"
)

// Email is the inbound metadata the classifier decides on. BodySnippet is
// a short prefix of the body, never the full text.
type Email struct {
	Subject     string `json:"subject"`
	From        string `json:"from"`
	ReplyTo     string `json:"reply_to"`
	To          string `json:"to"`
	BodySnippet string `json:"body_snippet"`

	HasListUnsubscribe bool `json:"has_list_unsubscribe"`
	IsBulk             bool `json:"is_bulk"`
	IsNoReply          bool `json:"is_no_reply"`
}

// Known listing portals. Domain matches and name fragments are both
// checked because portals send from varying subdomains.
var portalDomains = []string{
	"immobilienscout24.de",
	"immowelt.de",
	"immonet.de",
	"kleinanzeigen.de",
	"ebay-kleinanzeigen.de",
	"wg-gesucht.de",
	"wohnungsboerse.net",
	"ohne-makler.net",
}

var portalNameFragments = []string{
	"immobilienscout",
	"immowelt",
	"immonet",
	"kleinanzeigen",
	"wg-gesucht",
	"wohnungsboerse",
}

// Relay subdomains portals use so that replies to a no-reply From still
// reach the inquirer.
var relayDomains = []string{
	"reply.immobilienscout24.de",
	"antwort.immobilienscout24.de",
	"reply.immowelt.de",
	"mail.kleinanzeigen.de",
	"nachricht.immonet.de",
	"reply.wg-gesucht.de",
}

var inquiryKeywords = []string{
	"kontaktanfrage",
	"objektanfrage",
	"anfrage zu ihrer immobilie",
	"anfrage zu ihrem inserat",
	"besichtigung",
	"besichtigungstermin",
	"expose",
	"exposé",
	"interessent",
	"ihre immobilie",
	"ihr inserat",
	"inquiry about your property",
	"viewing request",
	"interested in your property",
}

var noReplyFragments = []string{
	"noreply",
	"no-reply",
	"no_reply",
	"donotreply",
	"do-not-reply",
	"nicht-antworten",
}

var bounceSenders = []string{
	"mailer-daemon",
	"postmaster",
	"mail-delivery",
	"maildelivery",
}

var bounceSubjects = []string{
	"mail delivery subsystem",
	"delivery status notification",
	"delivery failure",
	"failure notice",
	"undeliverable",
	"undelivered mail",
	"returned mail",
	"unzustellbar",
	"zustellung fehlgeschlagen",
}

var newsletterKeywords = []string{
	"newsletter",
	"unsubscribe",
	"abmelden",
	"abbestellen",
	"view in browser",
	"im browser ansehen",
}

var billingKeywords = []string{
	"rechnung",
	"invoice",
	"zahlungserinnerung",
	"mahnung",
	"payment due",
	"billing",
	"lastschrift",
}

// addressDomain extracts the lowercased domain of an address, tolerating
// display-name forms like `"Portal" <noreply@portal.de>`.
func addressDomain(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.Trim(addr[at+1:], "> ")
}

func addressLocal(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	return addr[:at]
}

func containsAny(haystack string, needles []string) bool {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(h, n) {
			return true
		}
	}
	return false
}

func domainMatches(domain string, suffixes []string) bool {
	for _, s := range suffixes {
		if domain == s || strings.HasSuffix(domain, "."+s) {
			return true
		}
	}
	return false
}

// isBounce detects bounce and system notifications.
func isBounce(e Email) bool {
	local := addressLocal(e.From)
	for _, s := range bounceSenders {
		if strings.Contains(local, s) {
			return true
		}
	}
	return containsAny(e.Subject, bounceSubjects)
}

// isPortalLike reports whether sender, reply-to or recipient point at a
// known listing portal.
func isPortalLike(e Email) bool {
	for _, addr := range []string{e.From, e.ReplyTo, e.To} {
		if domainMatches(addressDomain(addr), portalDomains) {
			return true
		}
		if containsAny(addr, portalNameFragments) {
			return true
		}
	}
	return false
}

// hasInquirySignal reports listing-inquiry keywords in subject or snippet.
func hasInquirySignal(e Email) bool {
	return containsAny(e.Subject, inquiryKeywords) || containsAny(e.BodySnippet, inquiryKeywords)
}

// isNoReplySender checks From and Reply-To for no-reply patterns, plus the
// explicit header signal.
func isNoReplySender(e Email) bool {
	if e.IsNoReply {
		return true
	}
	return containsAny(addressLocal(e.From), noReplyFragments) ||
		containsAny(addressLocal(e.ReplyTo), noReplyFragments)
}

// relayAllowed is the reply-relay check: the Reply-To must be a known relay
// domain, or a "reply.*"-style subdomain of the same portal, and must
// differ from a no-reply From address. Only then can a reply actually reach
// the inquirer behind the portal.
func relayAllowed(e Email) bool {
	replyDomain := addressDomain(e.ReplyTo)
	if replyDomain == "" {
		return false
	}
	// Reply-To pointing at the same no-reply mailbox is a dead end.
	if strings.EqualFold(strings.TrimSpace(e.ReplyTo), strings.TrimSpace(e.From)) &&
		isNoReplySender(e) {
		return false
	}
	if domainMatches(replyDomain, relayDomains) {
		return true
	}
	// Same-portal reply.* subdomain: reply.<portal-domain>.
	for _, portal := range portalDomains {
		if strings.HasSuffix(replyDomain, "."+portal) {
			prefix := strings.TrimSuffix(replyDomain, "."+portal)
			if prefix == "reply" || prefix == "antwort" || prefix == "mail" ||
				strings.HasPrefix(prefix, "reply") {
				return true
			}
		}
	}
	return false
}

func isNewsletterLike(e Email) bool {
	if e.HasListUnsubscribe || e.IsBulk {
		return true
	}
	return containsAny(e.Subject, newsletterKeywords) || containsAny(e.BodySnippet, newsletterKeywords)
}

func isBillingLike(e Email) bool {
	return containsAny(e.Subject, billingKeywords)
}
