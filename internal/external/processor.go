package external

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ipPattern       = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	hostnamePattern = regexp.MustCompile(`\b[a-zA-Z0-9-]+\.[a-zA-Z0-9.-]+\b`)
)

var networkKeywords = []string{
	"network", "router", "switch", "firewall", "vpn", "bgp", "ospf", "vlan",
	"ethernet", "wifi", "wireless", "lan", "wan", "dns", "dhcp", "tcp",
	"ip", "subnet", "gateway", "ping", "traceroute", "bandwidth",
	"latency", "packet", "cisco", "juniper", "arista", "fortinet",
	"routing", "switching", "connectivity", "interface", "port",
}

var priorityLabels = map[string]string{
	"1": "Critical", "2": "High", "3": "Moderate", "4": "Low", "5": "Planning",
}

var stateLabels = map[string]string{
	"1": "New", "2": "In Progress", "3": "On Hold", "6": "Resolved", "7": "Closed", "8": "Canceled",
}

// ProcessedTicket is a ticket transformed into ingestable shape: a
// human-readable text body plus a flat metadata map, per spec §4.11
// step 4.
type ProcessedTicket struct {
	ID          string
	Number      string
	Title       string
	Text        string
	Metadata    map[string]string
	ContentHash string
}

// TicketProcessor extracts structured fields from a Record (priority,
// state, description, work notes) and technical details (IPs,
// hostnames, via regex) into a readable text body and a metadata map,
// grounded on ServiceNowTicketProcessor.process_incident.
type TicketProcessor struct{}

// NewTicketProcessor returns a TicketProcessor. It is stateless.
func NewTicketProcessor() *TicketProcessor { return &TicketProcessor{} }

// Process converts one Record into a ProcessedTicket, or returns an
// error if the record is missing the fields needed to build a useful
// document (sys_id, number, short_description).
func (p *TicketProcessor) Process(rec Record) (*ProcessedTicket, error) {
	sysID := rec["sys_id"]
	number := rec["number"]
	title := rec["short_description"]
	if sysID == "" || number == "" || title == "" {
		return nil, fmt.Errorf("incomplete ticket record for %s", firstNonEmpty(number, sysID))
	}

	priority := rec["priority"]
	priorityLabel := priorityLabels[priority]
	if priorityLabel == "" {
		priorityLabel = "Priority " + priority
	}
	state := rec["state"]
	stateLabel := stateLabels[state]
	if stateLabel == "" {
		stateLabel = "State " + state
	}

	var lines []string
	lines = append(lines,
		"Incident Number: "+number,
		"Title: "+title,
		"",
		fmt.Sprintf("Priority: %s (%s)", priorityLabel, priority),
		fmt.Sprintf("Status: %s (%s)", stateLabel, state),
		"Category: "+fallback(rec["category"], "N/A"),
		"Subcategory: "+fallback(rec["subcategory"], "N/A"),
		"",
	)
	if rec["assigned_to"] != "" {
		lines = append(lines, "Assigned To: "+rec["assigned_to"])
	}
	if rec["assignment_group"] != "" {
		lines = append(lines, "Assignment Group: "+rec["assignment_group"])
	}
	lines = append(lines, "")
	if rec["description"] != "" {
		lines = append(lines, "Description:", rec["description"], "")
	}
	if rec["u_configuration_item"] != "" {
		lines = append(lines, "Configuration Item: "+rec["u_configuration_item"])
	}
	if rec["business_service"] != "" {
		lines = append(lines, "Business Service: "+rec["business_service"])
	}
	if rec["location"] != "" {
		lines = append(lines, "Location: "+rec["location"])
	}
	lines = append(lines, "")
	if rec["work_notes"] != "" {
		lines = append(lines, "Work Notes:", rec["work_notes"], "")
	}
	if rec["close_notes"] != "" {
		lines = append(lines, "Resolution Notes:", rec["close_notes"], "")
	}
	lines = append(lines,
		"Created: "+rec["sys_created_on"],
		"Updated: "+rec["sys_updated_on"],
	)
	if rec["resolved_at"] != "" {
		lines = append(lines, "Resolved: "+rec["resolved_at"])
	}
	if rec["closed_at"] != "" {
		lines = append(lines, "Closed: "+rec["closed_at"])
	}
	text := strings.Join(lines, "\n")

	metadata := map[string]string{
		"source":           "external_ticket",
		"source_type":       "ticket",
		"sys_id":            sysID,
		"number":            number,
		"ticket_number":     number,
		"title":             title,
		"priority":          priority,
		"priority_label":    priorityLabel,
		"state":             state,
		"state_label":       stateLabel,
		"category":          rec["category"],
		"subcategory":       rec["subcategory"],
		"is_network_related": boolString(isNetworkRelated(rec)),
		"created_on":        rec["sys_created_on"],
		"updated_on":        rec["sys_updated_on"],
		"assigned_to":       rec["assigned_to"],
		"assignment_group":  rec["assignment_group"],
		"business_service":  rec["business_service"],
		"configuration_item": rec["u_configuration_item"],
	}
	for k, v := range extractTechnicalDetails(rec) {
		metadata[k] = v
	}

	hash := contentHashOf(sysID, rec["sys_updated_on"], text)
	return &ProcessedTicket{
		ID: sysID, Number: number, Title: title, Text: text,
		Metadata: metadata, ContentHash: hash,
	}, nil
}

func isNetworkRelated(rec Record) bool {
	haystack := strings.ToLower(strings.Join([]string{
		rec["short_description"], rec["description"], rec["category"],
		rec["subcategory"], rec["u_configuration_item"], rec["business_service"],
	}, " "))
	for _, kw := range networkKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func extractTechnicalDetails(rec Record) map[string]string {
	text := rec["description"] + " " + rec["work_notes"]
	details := map[string]string{}
	if ips := uniqueSorted(ipPattern.FindAllString(text, -1)); len(ips) > 0 {
		details["ip_addresses"] = strings.Join(ips, ",")
	}
	if hosts := uniqueSorted(hostnamePattern.FindAllString(text, -1)); len(hosts) > 0 {
		details["hostnames"] = strings.Join(hosts, ",")
	}
	return details
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

func contentHashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
