// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/taskqueue"
)

const (
	minTags = 3
	maxTags = 8
)

const tagInstructions = `Respond with ONLY a JSON object, no prose and no markdown fences, shaped exactly like:
{"tags": ["tag1", "tag2", "tag3"], "summary": "one or two sentences"}
Rules: between 3 and 8 short lowercase tags, and a non-empty summary.`

// taggingReply is the shape every tagging prompt demands from the model.
type taggingReply struct {
	Tags    []string `json:"tags"`
	Summary string   `json:"summary"`
}

// tagger is the shared stage-two machinery. The three task-type variants
// differ only in how they build the prompt.
type tagger struct {
	files  files.Store
	model  ModelClient
	kind   taskqueue.TaskType
	prompt func(p TagPayload) (text string, imageURL string)
}

func (t *tagger) Type() taskqueue.TaskType {
	return t.kind
}

func (t *tagger) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[TagPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	prompt, imageURL := t.prompt(payload)
	reply, err := t.model.Complete(ctx, prompt, imageURL)
	if err != nil {
		return failOrRetry(ctx, t.files, task, payload.FileID, err)
	}

	tags, summary, err := parseTaggingReply(reply)
	if err != nil {
		return failOrRetry(ctx, t.files, task, payload.FileID, err)
	}

	if err := t.files.SetEnrichment(ctx, payload.FileID, tags, summary); err != nil {
		return failOrRetry(ctx, t.files, task, payload.FileID,
			fmt.Errorf("record enrichment: %w", err))
	}

	logger.Ctx(ctx).Info().
		Str("file_id", payload.FileID).
		Int("tags", len(tags)).
		Msg("enrich: file tagged")
	return nil
}

// parseTaggingReply decodes the model output, tolerating markdown code
// fences around the JSON but nothing else.
func parseTaggingReply(raw string) (tags []string, summary string, err error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var reply taggingReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTaggingParseFailed, err)
	}
	if len(reply.Tags) < minTags || len(reply.Tags) > maxTags {
		return nil, "", fmt.Errorf("%w: got %d tags, want %d..%d",
			ErrTaggingParseFailed, len(reply.Tags), minTags, maxTags)
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, "", fmt.Errorf("%w: empty summary", ErrTaggingParseFailed)
	}
	for _, tag := range reply.Tags {
		if strings.TrimSpace(tag) == "" {
			return nil, "", fmt.Errorf("%w: blank tag", ErrTaggingParseFailed)
		}
	}
	return reply.Tags, strings.TrimSpace(reply.Summary), nil
}

// NewImageTagger tags image files from a presigned read URL.
func NewImageTagger(store files.Store, model ModelClient) taskqueue.Handler {
	return &tagger{
		files: store,
		model: model,
		kind:  taskqueue.TaskTypeTagImage,
		prompt: func(p TagPayload) (string, string) {
			prompt := fmt.Sprintf(
				"Look at the attached image named %q and describe what it shows.\n%s",
				p.FileName, tagInstructions)
			return prompt, p.ImageURL
		},
	}
}

// NewDocumentTagger tags text documents from their extracted content.
func NewDocumentTagger(store files.Store, model ModelClient) taskqueue.Handler {
	return &tagger{
		files: store,
		model: model,
		kind:  taskqueue.TaskTypeTagDocument,
		prompt: func(p TagPayload) (string, string) {
			prompt := fmt.Sprintf(
				"The document %q (%s) begins:\n\n%s\n\nTag and summarize it.\n%s",
				p.FileName, p.MimeType, p.Text, tagInstructions)
			return prompt, ""
		},
	}
}

// NewGenericTagger tags files with no extractable content, working from
// name and mime type alone.
func NewGenericTagger(store files.Store, model ModelClient) taskqueue.Handler {
	return &tagger{
		files: store,
		model: model,
		kind:  taskqueue.TaskTypeTagGeneric,
		prompt: func(p TagPayload) (string, string) {
			prompt := fmt.Sprintf(
				"A file named %q of type %s was uploaded. Infer its likely purpose.\n%s",
				p.FileName, p.MimeType, tagInstructions)
			return prompt, ""
		},
	}
}
