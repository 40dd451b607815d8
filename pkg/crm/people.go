package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Person kinds.
const (
	KindContact = "Contact"
	KindLead    = "Lead"
)

// Person is a Contact or a non-converted Lead.
type Person struct {
	Kind       string
	ID         string
	Salutation string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Mobile     string
	OwnerID    string
	OwnerName  string
	AccountID  string
	Company    string
}

// Civility returns "Monsieur" or "Madame" from the salutation, or "".
func (p Person) Civility() string {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(p.Salutation), ".")) {
	case "mr", "m", "monsieur":
		return "Monsieur"
	case "ms", "mrs", "mme", "madame", "mlle", "mademoiselle":
		return "Madame"
	}
	return ""
}

type ownerRef struct {
	Name string `json:"Name"`
}

type personRecord struct {
	ID          string    `json:"Id"`
	Salutation  string    `json:"Salutation"`
	FirstName   string    `json:"FirstName"`
	LastName    string    `json:"LastName"`
	Email       string    `json:"Email"`
	Phone       string    `json:"Phone"`
	MobilePhone string    `json:"MobilePhone"`
	OwnerID     string    `json:"OwnerId"`
	Owner       *ownerRef `json:"Owner"`
	AccountID   string    `json:"AccountId"`
	Company     string    `json:"Company"`
}

func (r personRecord) person(kind string) Person {
	p := Person{
		Kind:       kind,
		ID:         r.ID,
		Salutation: r.Salutation,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Email:      r.Email,
		Phone:      r.Phone,
		Mobile:     r.MobilePhone,
		OwnerID:    r.OwnerID,
		AccountID:  r.AccountID,
		Company:    r.Company,
	}
	if r.Owner != nil {
		p.OwnerName = r.Owner.Name
	}
	return p
}

const (
	contactFields = "Id, Salutation, FirstName, LastName, Email, Phone, MobilePhone, OwnerId, Owner.Name, AccountId"
	leadFields    = "Id, Salutation, FirstName, LastName, Email, Phone, MobilePhone, OwnerId, Owner.Name, Company"
)

// PhoneVariants returns the spellings a French number may be stored under:
// E.164, national with a leading 0, and 0033.
func PhoneVariants(phone string) []string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return nil
	}

	var national string
	switch {
	case strings.HasPrefix(digits, "+33"):
		national = "0" + digits[3:]
	case strings.HasPrefix(digits, "0033"):
		national = "0" + digits[4:]
	case strings.HasPrefix(digits, "0"):
		national = digits
	default:
		return []string{phone}
	}
	rest := national[1:]
	out := []string{"+33" + rest, national, "0033" + rest}
	if phone != out[0] && phone != national && phone != out[2] {
		out = append(out, phone)
	}
	return out
}

func inList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// GetPersonByPhone looks for a Contact, then a non-converted Lead, whose
// phone or mobile matches. It returns nil when nobody matches.
func (c *Client) GetPersonByPhone(ctx context.Context, phone string) (p *Person, err error) {
	ctx, done := c.instrument(ctx, "get_person_by_phone", "Contact")
	defer func() { done(err) }()

	variants := PhoneVariants(phone)
	if len(variants) == 0 {
		return nil, nil
	}
	in := inList(variants)

	contacts, err := query[personRecord](ctx, c, fmt.Sprintf(
		"SELECT %s FROM Contact WHERE Phone IN %s OR MobilePhone IN %s ORDER BY LastModifiedDate DESC LIMIT 1",
		contactFields, in, in))
	if err != nil {
		return nil, err
	}
	if len(contacts) > 0 {
		found := contacts[0].person(KindContact)
		return &found, nil
	}

	leads, err := query[personRecord](ctx, c, fmt.Sprintf(
		"SELECT %s FROM Lead WHERE (Phone IN %s OR MobilePhone IN %s) AND IsConverted = false ORDER BY LastModifiedDate DESC LIMIT 1",
		leadFields, in, in))
	if err != nil {
		return nil, err
	}
	if len(leads) > 0 {
		found := leads[0].person(KindLead)
		return &found, nil
	}
	return nil, nil
}

// LeadFilter narrows GetLeadsByDetails; empty fields are ignored.
type LeadFilter struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
}

// GetLeadsByDetails lists non-converted leads matching every given field.
func (c *Client) GetLeadsByDetails(ctx context.Context, f LeadFilter) (leads []Person, err error) {
	ctx, done := c.instrument(ctx, "get_leads_by_details", "Lead")
	defer func() { done(err) }()

	where := []string{"IsConverted = false"}
	for field, v := range map[string]string{"Email": f.Email, "FirstName": f.FirstName, "LastName": f.LastName, "Company": f.Company} {
		if v = strings.TrimSpace(v); v != "" {
			where = append(where, field+" = "+quote(v))
		}
	}
	if len(where) == 1 {
		return nil, nil
	}
	sort.Strings(where[1:])

	records, err := query[personRecord](ctx, c, fmt.Sprintf("SELECT %s FROM Lead WHERE %s ORDER BY CreatedDate DESC",
		leadFields, strings.Join(where, " AND ")))
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		leads = append(leads, r.person(KindLead))
	}
	return leads, nil
}

// Opportunity is a sales opportunity.
type Opportunity struct {
	ID        string  `json:"Id"`
	Name      string  `json:"Name"`
	StageName string  `json:"StageName"`
	Amount    float64 `json:"Amount"`
	CloseDate string  `json:"CloseDate"`
	OwnerID   string  `json:"OwnerId"`
}

// GetOpportunitiesForLead lists the opportunities the lead converted into.
func (c *Client) GetOpportunitiesForLead(ctx context.Context, leadID string) (opps []Opportunity, err error) {
	ctx, done := c.instrument(ctx, "get_opportunities_for_lead", "Opportunity")
	defer func() { done(err) }()

	return query[Opportunity](ctx, c, fmt.Sprintf(
		"SELECT Id, Name, StageName, Amount, CloseDate, OwnerId FROM Opportunity WHERE Id IN (SELECT ConvertedOpportunityId FROM Lead WHERE Id = %s)",
		quote(leadID)))
}

// Owner is a Salesforce user owning records.
type Owner struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	Email string `json:"Email"`
}

// GetOwnerByID reads a user.
func (c *Client) GetOwnerByID(ctx context.Context, id string) (o *Owner, err error) {
	ctx, done := c.instrument(ctx, "get_owner", "User")
	defer func() { done(err) }()

	var out Owner
	path := c.apiPath("/sobjects/User/" + url.PathEscape(id) + "?fields=Id,Name,Email")
	if err := c.send(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
