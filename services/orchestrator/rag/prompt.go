// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
)

// DefaultSystemPrompt instructs the model to act as a professor recommender.
const DefaultSystemPrompt = `You are a "Rate My Professor" agent designed to assist students in finding the best professors based on their specific queries. You will retrieve relevant information about professors, including their names, subjects they teach, star ratings, and student reviews, and provide the top 3 professors that best match the user's query.

Guidelines:

    Understand the Query:
        Accurately interpret the user's question to identify key requirements, such as the subject, specific professor characteristics (e.g., teaching style, difficulty, helpfulness), or any other relevant criteria.

    Retrieve and Rank Information:
        Use the professor reviews returned from the vector database, which are appended to the user's latest message.
        Rank the professors based on relevance to the query, prioritizing factors like subject match, star ratings, and positive student feedback.

    Present the Top 3 Professors:
        Provide a concise summary for each of the top 3 professors, including:
            Name of Professor
            Subject they teach
            Star Rating (0-5)
            Brief Review or Key Strengths
        Ensure the summaries are clear, accurate, and directly address the user's query.

    Respond with Clarity:
        Keep responses succinct and focused on the most relevant information.
        If the query is ambiguous, ask clarifying questions to better understand the user's needs before proceeding with retrieval.

    Maintain Neutrality:
        Provide unbiased information without personal opinions or unnecessary commentary.
        If no suitable professors are found, suggest alternative queries or subjects for better results.

Example:

User Query: "Who are the best professors for Physics 101 that are known for being supportive?"

Response: "Here are the top 3 professors for Physics 101 known for their supportiveness:

    Dr. John Smith
        Subject: Physics 101
        Stars: 4.5
        Review: 'Great at explaining difficult concepts and always willing to help students after class.'

    Prof. Emily Turner
        Subject: Physics 101
        Stars: 4.3
        Review: 'Very supportive, with a focus on student understanding. Encourages questions and offers extra help sessions.'

    Dr. Laura Williams
        Subject: Physics 101
        Stars: 4.1
        Review: 'Cares about student success and provides plenty of resources to help with tough material.'"
`

const (
	// ResultsHeader introduces the retrieved-records block.
	ResultsHeader = "\n\nReturned results from vector db (done automatically):"
	// NoResultsText replaces the record list when nothing was retrieved.
	NoResultsText = " no results\n"
)

// FormatRecords renders retrieved records as the block appended to the
// user's question.
//
// # Description
//
// The output depends only on the records, in order. Each record is
// rendered as:
//
//	Professor: <id>
//	Subject: <subject>
//	Stars: <stars>
//	Review: <review>      (only when the record has review text)
//
// Stars use the shortest decimal form (4.5, not 4.500000). An empty slice
// renders the header followed by "no results".
func FormatRecords(records []datatypes.RetrievedRecord) string {
	var b strings.Builder
	b.WriteString(ResultsHeader)
	if len(records) == 0 {
		b.WriteString(NoResultsText)
		return b.String()
	}
	b.WriteString("\n")
	for _, r := range records {
		b.WriteString("\nProfessor: ")
		b.WriteString(oneLine(r.ID))
		b.WriteString("\nSubject: ")
		b.WriteString(oneLine(r.Metadata.Subject))
		b.WriteString("\nStars: ")
		b.WriteString(strconv.FormatFloat(r.Metadata.Stars, 'f', -1, 64))
		if review := strings.TrimSpace(r.Metadata.Review); review != "" {
			b.WriteString("\nReview: ")
			b.WriteString(review)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// oneLine keeps single-line fields from breaking the record layout.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Assembler builds the message list sent to the completion provider.
type Assembler struct {
	systemPrompt string
}

// NewAssembler creates an Assembler. An empty prompt selects DefaultSystemPrompt.
func NewAssembler(systemPrompt string) *Assembler {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Assembler{systemPrompt: systemPrompt}
}

// SystemPrompt returns the prompt placed at the head of every conversation.
func (a *Assembler) SystemPrompt() string { return a.systemPrompt }

// Assemble builds the completion input from the conversation and the
// retrieved records.
//
// # Description
//
// The result is always:
//
//	[0]        system: the fixed system prompt
//	[1..n-1]   the input messages except the last, unchanged and in order
//	[n]        user: last message content + FormatRecords(records)
//
// The function is pure; the same inputs give byte-identical output and the
// input slice is not modified.
//
// # Outputs
//
//   - []datatypes.Message: len(messages)+1 messages.
//   - error: InternalAssemblyError if messages is empty, which ParseRequest
//     rules out.
func (a *Assembler) Assemble(messages []datatypes.Message, records []datatypes.RetrievedRecord) ([]datatypes.Message, error) {
	if len(messages) == 0 {
		return nil, newError(KindInternalAssembly, StageAssemble, "cannot assemble an empty conversation", nil)
	}
	last := messages[len(messages)-1]
	history := messages[:len(messages)-1]

	out := make([]datatypes.Message, 0, len(messages)+1)
	out = append(out, datatypes.Message{Role: datatypes.RoleSystem, Content: a.systemPrompt})
	out = append(out, history...)
	out = append(out, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: AugmentQuery(last.Content, records),
	})
	return out, nil
}

// AugmentQuery appends the rendered records to the user's question.
func AugmentQuery(query string, records []datatypes.RetrievedRecord) string {
	return query + FormatRecords(records)
}
