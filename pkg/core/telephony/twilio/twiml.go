package twilio

import (
	"encoding/xml"
	"sort"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlStream struct {
	XMLName    xml.Name         `xml:"Stream"`
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Record   string   `xml:"record,attr,omitempty"`
	Number   string   `xml:"Number"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func render(verbs ...any) (string, error) {
	out, err := xml.Marshal(twimlResponse{Verbs: verbs})
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

// ConnectStream bridges the call audio to a bidirectional Media Stream.
// Parameters arrive as customParameters in the stream's start frame.
func ConnectStream(streamURL string, params map[string]string) (string, error) {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	stream := twimlStream{URL: streamURL}
	for _, k := range names {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: k, Value: params[k]})
	}
	return render(twimlConnect{Stream: stream})
}

// Dial forwards the call to a human number.
func Dial(number, callerID string, record bool) (string, error) {
	d := twimlDial{Number: number, CallerID: callerID}
	if record {
		d.Record = "record-from-answer"
	}
	return render(d)
}

func SayHangup(text string) (string, error) {
	if text == "" {
		return render(twimlHangup{})
	}
	return render(twimlSay{Text: text}, twimlHangup{})
}
