// Package har turns browser HAR captures into flow steps.
package har

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dukex/checkinhub/pkg/models"
)

var ErrInvalidHAR = errors.New("invalid HAR document")

var (
	staticExtensions = []string{
		".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
		".css", ".js", ".map", ".woff", ".woff2", ".ttf",
	}

	analyticsDomains = []string{
		"google-analytics", "googletagmanager", "doubleclick", "sentry", "datadog",
	}

	// headers copied into generated steps, matched lower-cased
	keptHeaders = []string{"accept", "content-type", "authorization", "cookie"}
)

// Entry is a captured request reduced to what a flow step needs.
type Entry struct {
	URL      string            `json:"url"      validate:"required"`
	Method   string            `json:"method"   validate:"required"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	PostData *string           `json:"postData"`
	Time     float64           `json:"time"`
}

type document struct {
	Log struct {
		Entries []struct {
			Request struct {
				Method   string      `json:"method"`
				URL      string      `json:"url"`
				Headers  []nameValue `json:"headers"`
				PostData *struct {
					Text *string `json:"text"`
				} `json:"postData"`
			} `json:"request"`
			Response struct {
				Status int `json:"status"`
			} `json:"response"`
			Time float64 `json:"time"`
		} `json:"entries"`
	} `json:"log"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parse reads a HAR document and returns its entries without static assets
// and analytics beacons, in capture order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc document

	err := json.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHAR, err)
	}

	entries := make([]Entry, 0, len(doc.Log.Entries))

	for _, raw := range doc.Log.Entries {
		url := raw.Request.URL
		if isStatic(url) || isAnalytics(url) {
			continue
		}

		headers := make(map[string]string, len(raw.Request.Headers))
		for _, h := range raw.Request.Headers {
			headers[h.Name] = h.Value
		}

		entry := Entry{
			URL:     url,
			Method:  raw.Request.Method,
			Status:  raw.Response.Status,
			Headers: headers,
			Time:    raw.Time,
		}

		if raw.Request.PostData != nil {
			entry.PostData = raw.Request.PostData.Text
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// GenerateFlow builds one step per entry, named step_1, step_2 and so on.
func GenerateFlow(entries []Entry) []models.Step {
	steps := make([]models.Step, 0, len(entries))

	for index, entry := range entries {
		step := models.Step{
			Name:    fmt.Sprintf("step_%d", index+1),
			Method:  entry.Method,
			URL:     entry.URL,
			Headers: map[string]string{},
		}

		lower := make(map[string]string, len(entry.Headers))
		for name, value := range entry.Headers {
			lower[strings.ToLower(name)] = value
		}

		for _, name := range keptHeaders {
			if value, ok := lower[name]; ok {
				step.Headers[name] = value
			}
		}

		if entry.PostData != nil && *entry.PostData != "" {
			step.Body = decodeBody(*entry.PostData)
		}

		steps = append(steps, step)
	}

	return steps
}

func decodeBody(text string) any {
	var body any

	err := json.Unmarshal([]byte(text), &body)
	if err != nil {
		return text
	}

	return body
}

func isStatic(url string) bool {
	for _, ext := range staticExtensions {
		if strings.HasSuffix(url, ext) {
			return true
		}
	}

	return false
}

func isAnalytics(url string) bool {
	for _, domain := range analyticsDomains {
		if strings.Contains(url, domain) {
			return true
		}
	}

	return false
}
