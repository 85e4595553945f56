package telephony

import (
	"encoding/xml"
	"fmt"
	"sort"
)

// TwiML response rendering for the voice webhook: a <Connect><Stream> that
// points the carrier's media socket at our endpoint, with optional custom
// parameters echoed back in the start frame.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string       `xml:"url,attr"`
	Parameters []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStreamTwiML renders the TwiML that bridges an answered call onto the
// media WebSocket at streamURL. params become customParameters in the start
// frame; greeting, when non-empty, is spoken before the stream connects.
func ConnectStreamTwiML(streamURL, greeting string, params map[string]string) ([]byte, error) {
	resp := twimlResponse{
		Say: greeting,
		Connect: &twimlConnect{
			Stream: twimlStream{URL: streamURL},
		},
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters,
			twimlParam{Name: name, Value: params[name]})
	}

	body, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("telephony: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
