// Package bbb is a minimal client for the BigBlueButton meeting API.
//
// Only the read-only calls vncgate needs are implemented. Every call is
// signed with sha256(call + query + secret), the scheme bbb-web expects.
package bbb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

const apiPath = "/bigbluebutton/api/"

// Attendee is a participant of a running meeting.
type Attendee struct {
	UserID      string `xml:"userID" json:"userID"`
	FullName    string `xml:"fullName" json:"fullName"`
	Role        string `xml:"role" json:"role"`
	IsPresenter bool   `xml:"isPresenter" json:"isPresenter"`
}

// IsModerator reports whether the attendee joined as a moderator.
func (a Attendee) IsModerator() bool {
	return strings.EqualFold(a.Role, "MODERATOR")
}

// Meeting is the subset of meeting metadata vncgate reads.
type Meeting struct {
	MeetingID   string     `xml:"meetingID" json:"meetingID"`
	MeetingName string     `xml:"meetingName" json:"meetingName"`
	Running     bool       `xml:"running" json:"running"`
	Attendees   []Attendee `xml:"attendees>attendee" json:"attendees"`
}

// HasAttendee reports whether fullName is currently in the meeting.
func (m *Meeting) HasAttendee(fullName string) bool {
	for _, a := range m.Attendees {
		if a.FullName == fullName {
			return true
		}
	}
	return false
}

type envelope struct {
	ReturnCode string `xml:"returncode"`
	MessageKey string `xml:"messageKey"`
	Message    string `xml:"message"`
}

type meetingsResponse struct {
	envelope
	Meetings []Meeting `xml:"meetings>meeting"`
}

type meetingInfoResponse struct {
	envelope
	Meeting
}

// Client calls a bbb-web server.
type Client struct {
	serverURL  string
	secret     string
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient selects one with a 10s timeout.
func NewClient(serverURL, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		secret:     secret,
		httpClient: httpClient,
	}
}

// Checksum signs an API call.
func Checksum(call, query, secret string) string {
	sum := sha256.Sum256([]byte(call + query + secret))
	return hex.EncodeToString(sum[:])
}

// URL builds the signed URL for call with params.
func (c *Client) URL(call string, params url.Values) string {
	query := params.Encode()
	checksum := Checksum(call, query, c.secret)
	if query != "" {
		query += "&"
	}
	return c.serverURL + apiPath + call + "?" + query + "checksum=" + checksum
}

func (c *Client) call(ctx context.Context, call string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(call, params), nil)
	if err != nil {
		return errors.Resolution(fmt.Sprintf("bbb %s: building request", call), err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Resolution(fmt.Sprintf("bbb %s: request failed", call), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Resolution(fmt.Sprintf("bbb %s: unexpected status %s", call, resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errors.Resolution(fmt.Sprintf("bbb %s: reading response", call), err)
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return errors.Resolution(fmt.Sprintf("bbb %s: decoding response", call), err)
	}
	return nil
}

// GetMeetings lists all meetings known to the server.
func (c *Client) GetMeetings(ctx context.Context) ([]Meeting, error) {
	var resp meetingsResponse
	if err := c.call(ctx, "getMeetings", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != "SUCCESS" {
		return nil, apiFailure("getMeetings", resp.envelope)
	}
	return resp.Meetings, nil
}

// GetMeetingInfo returns metadata and attendees for one meeting.
func (c *Client) GetMeetingInfo(ctx context.Context, meetingID string) (*Meeting, error) {
	var resp meetingInfoResponse
	if err := c.call(ctx, "getMeetingInfo", url.Values{"meetingID": {meetingID}}, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != "SUCCESS" {
		return nil, apiFailure("getMeetingInfo", resp.envelope)
	}
	m := resp.Meeting
	return &m, nil
}

// FindMeetingForAttendee returns the ID of the first running meeting that
// fullName is attending.
func (c *Client) FindMeetingForAttendee(ctx context.Context, fullName string) (string, bool, error) {
	meetings, err := c.GetMeetings(ctx)
	if err != nil {
		return "", false, err
	}
	for i := range meetings {
		if meetings[i].HasAttendee(fullName) {
			return meetings[i].MeetingID, true, nil
		}
	}
	return "", false, nil
}

func apiFailure(call string, e envelope) error {
	msg := e.Message
	if msg == "" {
		msg = e.MessageKey
	}
	if msg == "" {
		msg = "returncode " + e.ReturnCode
	}
	return errors.Resolution(fmt.Sprintf("bbb %s: %s", call, msg), nil)
}
