package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

const classifyPrompt = `You catalogue business documents for a back-office archive.
Given the file name, MIME type and an excerpt of the content, return a short title,
a one or two sentence summary, up to eight lowercase tags, the ISO 639-1 language
code and the primary document date (YYYY-MM-DD). Leave a field empty when unsure.

File name: %s
MIME type: %s
Excerpt:
%s`

// OpenAIClassifier classifies files with the Responses API and a strict JSON
// schema reflected from Classification.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	schema map[string]any
}

// NewOpenAIClassifier builds a classifier for model.
func NewOpenAIClassifier(apiKey, model string, opts ...option.RequestOption) (*OpenAIClassifier, error) {
	schema, err := classificationSchema()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = string(shared.ChatModelGPT4oMini)
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIClassifier{client: &client, model: model, schema: schema}, nil
}

// Classify asks the model for metadata.
func (c *OpenAIClassifier) Classify(ctx context.Context, ref Reference) (Classification, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(fmt.Sprintf(classifyPrompt, ref.FileName, ref.MimeType, ref.Excerpt)),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "vault_classification",
					Strict:      param.NewOpt(true),
					Schema:      c.schema,
					Description: param.NewOpt("Metadata extracted from an archived business document"),
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return Classification{}, fmt.Errorf("vault/openai: responses: %w", err)
	}
	content := resp.OutputText()
	if content == "" {
		return Classification{}, errors.New("vault/openai: empty response")
	}
	var out Classification
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Classification{}, fmt.Errorf("vault/openai: parse: %w", err)
	}
	out.Tags = NormalizeTags(out.Tags)
	return out, nil
}

func classificationSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(Classification{}))
	if err != nil {
		return nil, fmt.Errorf("vault/openai: marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("vault/openai: decode schema: %w", err)
	}
	return schema, nil
}
