package provider

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestAnthropicStream_TranslatesEvents(t *testing.T) {
	raw := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"usage":{"input_tokens":11}}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`,
		"",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
		"",
		`data: {"type":"message_delta","usage":{"output_tokens":7}}`,
		"",
		`data: {"type":"message_stop"}`,
		"",
	}, "\n") + "\n"

	s := &anthropicStream{reader: bufio.NewReader(strings.NewReader(raw)), model: "upstream-id"}
	defer s.Close()

	first, err := s.Recv()
	if err != nil {
		t.Fatalf("recv role chunk: %v", err)
	}
	if first.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("expected assistant role chunk, got %+v", first.Choices[0].Delta)
	}

	var text strings.Builder
	var sawUsage bool
	for {
		chunk, errRecv := s.Recv()
		if errors.Is(errRecv, io.EOF) {
			break
		}
		if errRecv != nil {
			t.Fatalf("recv: %v", errRecv)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Usage != nil {
			sawUsage = true
			if chunk.Usage.PromptTokens != 11 || chunk.Usage.CompletionTokens != 7 {
				t.Fatalf("unexpected usage: %+v", chunk.Usage)
			}
			if chunk.Usage.TotalTokens != 18 {
				t.Fatalf("expected total 18, got %d", chunk.Usage.TotalTokens)
			}
		}
	}
	if text.String() != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", text.String())
	}
	if !sawUsage {
		t.Fatalf("expected usage on the final delta")
	}
}

func TestGeminiStream_TranslatesFrames(t *testing.T) {
	raw := strings.Join([]string{
		`data: {"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`,
		"",
		`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":4,"thoughtsTokenCount":2}}`,
		"",
	}, "\n") + "\n"

	s := &geminiStream{reader: bufio.NewReader(strings.NewReader(raw)), model: "upstream-id"}
	defer s.Close()

	first, err := s.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if first.Choices[0].Delta.Content != "hel" {
		t.Fatalf("unexpected first chunk: %+v", first.Choices[0].Delta)
	}
	if first.Usage != nil {
		t.Fatalf("usage must not arrive before the final frame")
	}

	last, err := s.Recv()
	if err != nil {
		t.Fatalf("recv final: %v", err)
	}
	if last.Choices[0].Delta.Content != "lo" {
		t.Fatalf("unexpected final chunk: %+v", last.Choices[0].Delta)
	}
	if last.Usage == nil {
		t.Fatalf("expected usage on the finishing frame")
	}
	if last.Usage.PromptTokens != 9 || last.Usage.CompletionTokens != 6 || last.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", last.Usage)
	}
	if last.Usage.CompletionTokensDetails == nil || last.Usage.CompletionTokensDetails.ReasoningTokens != 2 {
		t.Fatalf("reasoning tokens must be reported")
	}

	if _, errEOF := s.Recv(); !errors.Is(errEOF, io.EOF) {
		t.Fatalf("expected EOF at stream end, got %v", errEOF)
	}
}

func TestOpenRouterStream_StopsAtDone(t *testing.T) {
	raw := strings.Join([]string{
		": keep-alive comment",
		`data: {"id":"gen-1","choices":[{"delta":{"content":"hi"}}]}`,
		"",
		"data: [DONE]",
		"",
	}, "\n") + "\n"

	s := &openrouterStream{reader: bufio.NewReader(strings.NewReader(raw))}
	defer s.Close()

	chunk, err := s.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if chunk.Choices[0].Delta.Content != "hi" {
		t.Fatalf("unexpected chunk: %+v", chunk.Choices[0].Delta)
	}
	if _, errEOF := s.Recv(); !errors.Is(errEOF, io.EOF) {
		t.Fatalf("expected EOF after [DONE], got %v", errEOF)
	}
}

func TestOpenRouterStream_ParsesUnterminatedFinalLine(t *testing.T) {
	raw := `data: {"id":"gen-1","choices":[{"delta":{"content":"hi"}}]}` + "\n\n" +
		`data: {"id":"gen-1","choices":[{"delta":{"content":"!"}}]}` // body ends mid-line

	s := &openrouterStream{reader: bufio.NewReader(strings.NewReader(raw))}
	defer s.Close()

	first, err := s.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if first.Choices[0].Delta.Content != "hi" {
		t.Fatalf("unexpected first chunk: %+v", first.Choices[0].Delta)
	}

	last, err := s.Recv()
	if err != nil {
		t.Fatalf("recv unterminated chunk: %v", err)
	}
	if last.Choices[0].Delta.Content != "!" {
		t.Fatalf("final chunk must not be dropped, got %+v", last.Choices[0].Delta)
	}

	if _, errEOF := s.Recv(); !errors.Is(errEOF, io.EOF) {
		t.Fatalf("expected EOF at stream end, got %v", errEOF)
	}
}

func TestGeminiStream_ParsesUnterminatedFinalFrame(t *testing.T) {
	raw := `data: {"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1}}` // body ends mid-line

	s := &geminiStream{reader: bufio.NewReader(strings.NewReader(raw)), model: "upstream-id"}
	defer s.Close()

	chunk, err := s.Recv()
	if err != nil {
		t.Fatalf("recv unterminated frame: %v", err)
	}
	if chunk.Usage == nil || chunk.Usage.TotalTokens != 4 {
		t.Fatalf("usage from the final frame must not be dropped, got %+v", chunk.Usage)
	}

	if _, errEOF := s.Recv(); !errors.Is(errEOF, io.EOF) {
		t.Fatalf("expected EOF at stream end, got %v", errEOF)
	}
}
