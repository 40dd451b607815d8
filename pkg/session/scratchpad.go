package session

// Scratchpad keys shared between the router and the agents.
const (
	KeyAccountInfo        = "sf_account_info"
	KeyLeadsInfo          = "sf_leads_info"
	KeyLeadExtracted      = "lead_extracted_info"
	KeyLeadMissingFields  = "lead_missing_fields"
	KeyLeadLastStatus     = "lead_last_status"
	KeyNextAgentNeeded    = "next_agent_needed"
	KeyAppointmentCreated = "appointment_created"
	KeyAppointmentFailed  = "appointment_failed"
	KeyCalendarSlot       = "calendar_slot"
)

// Values of KeyLeadLastStatus.
const (
	LeadCaptured = "lead_captured"
	LeadAPIError = "api_error"
)

// Scratchpad is the free-form store agents use across turns.
type Scratchpad map[string]any

// Set stores v under key. A nil v deletes the key.
func (s Scratchpad) Set(key string, v any) {
	if v == nil {
		delete(s, key)
		return
	}
	s[key] = v
}

// Delete removes key.
func (s Scratchpad) Delete(key string) {
	delete(s, key)
}

// Has reports whether key is set.
func (s Scratchpad) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the string under key, or "".
func (s Scratchpad) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the bool under key, or false.
func (s Scratchpad) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Strings returns the string slice under key.
func (s Scratchpad) Strings(key string) []string {
	v, _ := s[key].([]string)
	return v
}

// Fields returns the string map under key, or nil.
func (s Scratchpad) Fields(key string) map[string]string {
	v, _ := s[key].(map[string]string)
	return v
}

// Get returns the value under key as T.
func Get[T any](s Scratchpad, key string) (T, bool) {
	v, ok := s[key].(T)
	return v, ok
}

// Terminal reports whether the scratchpad records an outcome that ends the
// current graph run.
func (s Scratchpad) Terminal() bool {
	switch s.String(KeyLeadLastStatus) {
	case LeadCaptured, LeadAPIError:
		return true
	}
	return s.Bool(KeyAppointmentCreated)
}
