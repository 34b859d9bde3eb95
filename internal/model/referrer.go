package model

import "time"

// InstallReferrer is the platform-supplied payload describing the
// install-triggering click. Extracted once at first launch; absent on
// platforms without a referrer API.
type InstallReferrer struct {
	ReferrerURL string    `json:"referrer_url"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UTMTerm     string    `json:"utm_term,omitempty"`
	UTMContent  string    `json:"utm_content,omitempty"`
	ClickTime   time.Time `json:"click_time,omitempty"`
	InstallTime time.Time `json:"install_time,omitempty"`
}

// IsEmpty reports whether the payload carries no usable click data.
func (r *InstallReferrer) IsEmpty() bool {
	return r == nil || (r.ReferrerURL == "" && r.UTMSource == "" && r.UTMCampaign == "")
}

// UTM returns the non-empty utm fields as a map for event enrichment.
func (r *InstallReferrer) UTM() map[string]string {
	if r == nil {
		return nil
	}
	utm := make(map[string]string, 5)
	put := func(k, v string) {
		if v != "" {
			utm[k] = v
		}
	}
	put("utm_source", r.UTMSource)
	put("utm_medium", r.UTMMedium)
	put("utm_campaign", r.UTMCampaign)
	put("utm_term", r.UTMTerm)
	put("utm_content", r.UTMContent)
	if len(utm) == 0 {
		return nil
	}
	return utm
}
