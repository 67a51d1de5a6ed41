// Package textract adapts Amazon Textract output into the neutral
// analysis shape consumed by the extraction normalizer.
package textract

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/paperglass/receipt-search-backend/internal/extract"
)

// Client analyzes receipt images stored in S3.
type Client struct {
	TC     *textract.Client
	Bucket string
}

// New builds a Client for images in bucket.
func New(tc *textract.Client, bucket string) *Client {
	return &Client{TC: tc, Bucket: bucket}
}

// Analyze runs expense analysis and text detection on the object at key
// and flattens both into an extract.Analysis.
func (c *Client) Analyze(ctx context.Context, key string) (extract.Analysis, error) {
	doc := &types.Document{
		S3Object: &types.S3Object{
			Bucket: aws.String(c.Bucket),
			Name:   aws.String(key),
		},
	}

	var a extract.Analysis

	exp, err := c.TC.AnalyzeExpense(ctx, &textract.AnalyzeExpenseInput{Document: doc})
	if err != nil {
		return extract.Analysis{}, err
	}
	for _, ed := range exp.ExpenseDocuments {
		if a.SummaryFields == nil {
			a.SummaryFields = make(map[string]string, len(ed.SummaryFields))
		}
		for _, f := range ed.SummaryFields {
			k, v := fieldKV(f)
			if k == "" || v == "" {
				continue
			}
			if _, seen := a.SummaryFields[k]; !seen {
				a.SummaryFields[k] = v
			}
		}
		for _, g := range ed.LineItemGroups {
			for _, li := range g.LineItems {
				fields := make(map[string]string, len(li.LineItemExpenseFields))
				for _, f := range li.LineItemExpenseFields {
					if k, v := fieldKV(f); k != "" && v != "" {
						fields[k] = v
					}
				}
				if len(fields) > 0 {
					a.LineItems = append(a.LineItems, fields)
				}
			}
		}
	}

	det, err := c.TC.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: doc})
	if err != nil {
		return extract.Analysis{}, err
	}
	for _, b := range det.Blocks {
		if b.BlockType != types.BlockTypeLine || b.Text == nil {
			continue
		}
		tb := extract.TextBlock{Text: *b.Text}
		if b.Confidence != nil {
			tb.Confidence = float64(*b.Confidence)
		}
		a.Blocks = append(a.Blocks, tb)
	}

	return a, nil
}

// fieldKV flattens an expense field into a snake_case key and its
// detected value.
func fieldKV(f types.ExpenseField) (string, string) {
	if f.Type == nil || f.Type.Text == nil || f.ValueDetection == nil || f.ValueDetection.Text == nil {
		return "", ""
	}
	return snakeKey(*f.Type.Text), strings.TrimSpace(*f.ValueDetection.Text)
}

// snakeKey lowercases an analyzer field label and replaces separators
// with underscores, e.g. "VENDOR NAME" -> "vendor_name".
func snakeKey(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, " ", "_")
	label = strings.ReplaceAll(label, "-", "_")
	return label
}
