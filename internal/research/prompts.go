package research

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt builders for the completion service. The renderers keep prompts
// deterministic so tests can assert on section layout.

// WebsitePrompt asks for a company's official website.
func WebsitePrompt(company string) CompletionRequest {
	return CompletionRequest{
		System:    "You are a helpful assistant that finds official company websites. Respond with ONLY the URL of the official website.",
		Prompt:    fmt.Sprintf("%s official website", company),
		MaxTokens: 100,
	}
}

// CompanyNamePrompt extracts a company name from a free-text target.
// The model answers "None" when no company is mentioned.
func CompanyNamePrompt(text string) CompletionRequest {
	return CompletionRequest{
		System:    "Extract the company name from the following query. If there is no specific company mentioned, respond with \"None\". Respond with ONLY the company name or \"None\".",
		Prompt:    text,
		MaxTokens: 50,
	}
}

// SummaryPrompt drives the single analysis stage over extracted content.
func SummaryPrompt(subject string, content ExtractedContent) CompletionRequest {
	return CompletionRequest{
		System: fmt.Sprintf("You are a research assistant summarizing the website of %s. Produce a concise, factual overview of what the site says about the organization, its offerings, and its audience. Use markdown.", subject),
		Prompt: RenderContent(content),
	}
}

// CategoryPrompt drives one fan-out analysis category.
func CategoryPrompt(subject, category string, content ExtractedContent) CompletionRequest {
	return CompletionRequest{
		System: fmt.Sprintf("You are a research assistant gathering information about %s's %s. Provide detailed, factual information grounded in the supplied website content. Include specific details when available and cite source URLs when possible.", subject, CategoryPhrase(category)),
		Prompt: RenderContent(content),
	}
}

// CompilePrompt merges completed category results into the final report
// request. Sections are ordered by the supplied key order; keys missing from
// results are skipped.
func CompilePrompt(subject string, order []string, results map[string]string) CompletionRequest {
	var b strings.Builder
	for _, key := range orderedKeys(order, results) {
		fmt.Fprintf(&b, "## %s\n%s\n\n", CategoryHeading(key), results[key])
	}
	system := fmt.Sprintf(`You are a business analyst creating a comprehensive research report about %s.

Based on the provided research data, create a well-structured report that covers:
1. Company Overview
2. Target Customers and Audience
3. Products and Services
4. Key Features and Capabilities
5. Pricing Structure
6. Market Positioning and Competitive Analysis
7. Summary and Insights

Use markdown formatting for better readability.
Maintain factual accuracy and cite sources where appropriate.`, subject)
	return CompletionRequest{
		System: system,
		Prompt: strings.TrimSuffix(b.String(), "\n"),
	}
}

func orderedKeys(order []string, results map[string]string) []string {
	out := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, key := range order {
		if _, ok := results[key]; ok {
			out = append(out, key)
			seen[key] = struct{}{}
		}
	}
	// Results for keys outside the declared order still get a section.
	rest := make([]string, 0)
	for key := range results {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// RenderContent flattens extracted content into prompt context.
func RenderContent(c ExtractedContent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", c.URL)
	if c.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", c.Title)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	if c.Keywords != "" {
		fmt.Fprintf(&b, "Keywords: %s\n", c.Keywords)
	}
	writeHeadings(&b, "H1", c.H1)
	writeHeadings(&b, "H2", c.H2)
	writeHeadings(&b, "H3", c.H3)
	if len(c.Links) > 0 {
		b.WriteString("Links:\n")
		for _, l := range c.Links {
			fmt.Fprintf(&b, "- %s (%s)\n", l.Text, l.URL)
		}
	}
	if c.RawBody != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", c.RawBody)
	}
	return b.String()
}

func writeHeadings(b *strings.Builder, label string, hs []string) {
	if len(hs) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(hs, " | "))
}
