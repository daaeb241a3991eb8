package sites

import (
	"encoding/json"
	"log"
	"time"

	"quasarr/internal/store"
	"quasarr/models"
)

const issuesTable = "hostname_issues"

// MarkIssue records a failed site operation. The web UI renders these as red
// indicators with the last operation and timestamp.
func MarkIssue(db *store.DB, site, operation string, opErr error) {
	if opErr == nil {
		return
	}
	err := db.Mutate(issuesTable, site, func(current string, ok bool) string {
		issues := map[string]models.HostnameIssue{}
		if ok {
			_ = json.Unmarshal([]byte(current), &issues)
		}
		issues[operation] = models.HostnameIssue{
			Operation: operation,
			Error:     opErr.Error(),
			Timestamp: time.Now().UTC(),
		}
		data, _ := json.Marshal(issues)
		return string(data)
	})
	if err != nil {
		log.Printf("[sites] record issue for %s/%s: %v", site, operation, err)
	}
}

// ClearIssue removes the issue for one operation after a success. The row
// disappears entirely once no operation is failing.
func ClearIssue(db *store.DB, site, operation string) {
	raw, ok := db.Retrieve(issuesTable, site)
	if !ok {
		return
	}
	issues := map[string]models.HostnameIssue{}
	if err := json.Unmarshal([]byte(raw), &issues); err != nil {
		_ = db.Delete(issuesTable, site)
		return
	}
	if _, exists := issues[operation]; !exists {
		return
	}
	delete(issues, operation)
	if len(issues) == 0 {
		_ = db.Delete(issuesTable, site)
		return
	}
	data, _ := json.Marshal(issues)
	_ = db.Store(issuesTable, site, string(data))
}

// Issues returns every site's recorded issues for the status endpoint.
func Issues(db *store.DB) map[string]map[string]models.HostnameIssue {
	out := map[string]map[string]models.HostnameIssue{}
	for _, entry := range db.RetrieveAll(issuesTable) {
		issues := map[string]models.HostnameIssue{}
		if err := json.Unmarshal([]byte(entry.Value), &issues); err != nil {
			continue
		}
		out[entry.Key] = issues
	}
	return out
}
