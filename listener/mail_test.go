package listener

import (
	"errors"
	"strings"
	"testing"
	"time"

	webmention "github.com/cvanloo/gowebmention"
)

func TestDefaultSubjectLineTalliesByType(t *testing.T) {
	mentions := []webmention.Mention{
		{Type: webmention.TypeLike},
		{Type: webmention.TypeReply},
	}
	got := DefaultSubjectLine(mentions)
	want := "You've received 1 reply, 1 like"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultSubjectLineTalliesUnknownType(t *testing.T) {
	mentions := []webmention.Mention{{Type: webmention.TypeUnknown}, {Type: webmention.TypeUnknown}}
	got := DefaultSubjectLine(mentions)
	if !strings.Contains(got, "2 unknown") {
		t.Errorf("got %q, want a tally mentioning 2 unknown", got)
	}
}

func TestDefaultBodyRendersEachMention(t *testing.T) {
	mentions := []webmention.Mention{
		{Source: "https://a.example/1", Target: "https://b.example/1", Status: webmention.StatusConfirmed},
		{Source: "https://a.example/2", Target: "https://b.example/2", Status: webmention.StatusConfirmed},
	}
	body := DefaultBody(mentions)
	if strings.Count(body, "source:") != 2 {
		t.Errorf("expected two mention blocks, got:\n%s", body)
	}
}

type stubSender struct {
	sent [][]webmention.Mention
	err  error
}

func (s *stubSender) Send(mentions []webmention.Mention) error {
	s.sent = append(s.sent, mentions)
	return s.err
}

func TestMailerReceiveSendsSingleMention(t *testing.T) {
	stub := &stubSender{}
	m := Mailer{Sender: stub}
	mention := webmention.Mention{Source: "https://a.example", Target: "https://b.example"}
	m.Receive(mention)
	if len(stub.sent) != 1 || len(stub.sent[0]) != 1 || stub.sent[0][0].Source != mention.Source {
		t.Fatalf("expected one Send call with the mention, got %+v", stub.sent)
	}
}

func TestMailerReceiveLogsSendFailureWithoutPanicking(t *testing.T) {
	stub := &stubSender{err: errors.New("smtp down")}
	m := Mailer{Sender: stub}
	m.Receive(webmention.Mention{Source: "https://a.example", Target: "https://b.example"})
}

func TestReportAggregatorSendNowNoopWhenEmpty(t *testing.T) {
	agg := &ReportAggregator{Sender: &stubSender{}}
	if err := agg.SendNow(); err != nil {
		t.Fatalf("expected no error sending an empty batch, got %v", err)
	}
}

func TestReportAggregatorSendFlushesAtCount(t *testing.T) {
	stub := &stubSender{}
	// lastSentTime seeded to now so the time-based branch (which otherwise
	// fires unconditionally on a zero-value lastSentTime) doesn't mask the
	// count-based threshold this test exercises.
	agg := &ReportAggregator{Sender: stub, SendAfterCount: 2, SendAfterTime: time.Hour, lastSentTime: time.Now()}
	if err := agg.Send([]webmention.Mention{{Source: "https://a.example"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(stub.sent) != 0 {
		t.Fatalf("expected no flush below SendAfterCount, got %+v", stub.sent)
	}
	if err := agg.Send([]webmention.Mention{{Source: "https://b.example"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(stub.sent) != 1 || len(stub.sent[0]) != 2 {
		t.Fatalf("expected a single flush of both mentions, got %+v", stub.sent)
	}
	if len(agg.Todos) != 0 {
		t.Errorf("expected Todos cleared after flush, got %+v", agg.Todos)
	}
}
