package catalog

import (
	"regexp"

	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// Connection type identifiers. The set is closed: adding a provider means
// adding a constant, a spec below, and a probe strategy - nothing in the
// store, cache, or broker changes.
const (
	TypeOpenRouter = "openrouter"
	TypeAnthropic  = "anthropic"
	TypeOpenOps    = "openops"
	TypeArcade     = "arcade"
	TypeMCPJungle  = "mcpjungle"
	TypeFAL        = "fal"
	TypeModelsLab  = "modelslab"
	TypeAWS        = "aws"
	TypeGitHub     = "github"
	TypeSupabase   = "supabase"
)

var (
	urlPattern         = regexp.MustCompile(`^https?://\S+$`)
	openRouterKey      = regexp.MustCompile(`^sk-or-[A-Za-z0-9_-]{20,}$`)
	anthropicKey       = regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{20,}$`)
	falKey             = regexp.MustCompile(`^[A-Za-z0-9-]{8,}:[A-Za-z0-9]{16,}$`)
	awsAccessKeyID     = regexp.MustCompile(`^(AKIA|ASIA)[A-Z0-9]{16}$`)
	awsRegion          = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d$`)
	githubToken        = regexp.MustCompile(`^(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})$`)
	supabaseProjectURL = regexp.MustCompile(`^https://[a-z0-9-]+\.supabase\.co$`)
	identifier         = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)
	nonEmptyToken      = regexp.MustCompile(`^\S{8,}$`)
)

var readWrite = []models.Scope{models.ScopeRead, models.ScopeWrite}
var readWriteAdmin = []models.Scope{models.ScopeRead, models.ScopeWrite, models.ScopeAdmin}
var readOnly = []models.Scope{models.ScopeRead}

// New builds the catalog with every supported connection type registered.
func New() *Catalog {
	return &Catalog{specs: map[string]Spec{
		TypeOpenRouter: {
			Name:            "OpenRouter",
			Description:     "OpenRouter-compatible LLM gateway",
			RequiredFields:  []string{"apiKey"},
			OptionalFields:  []string{"baseUrl", "model"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWrite,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":  openRouterKey,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"baseUrl", "model"},
		},
		TypeAnthropic: {
			Name:            "Anthropic",
			Description:     "Anthropic Claude API",
			RequiredFields:  []string{"apiKey"},
			OptionalFields:  []string{"baseUrl", "model"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWrite,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":  anthropicKey,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"baseUrl", "model"},
		},
		TypeOpenOps: {
			Name:            "OpenOps",
			Description:     "Compute and workflow orchestration platform",
			RequiredFields:  []string{"apiKey", "workspaceId"},
			OptionalFields:  []string{"baseUrl"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWriteAdmin,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":      nonEmptyToken,
				"workspaceId": identifier,
				"baseUrl":     urlPattern,
			},
			PublicFields: []string{"workspaceId", "baseUrl"},
		},
		TypeArcade: {
			Name:            "Arcade",
			Description:     "Arcade tool-calling and delegation platform",
			RequiredFields:  []string{"apiKey"},
			OptionalFields:  []string{"baseUrl", "userId"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWrite,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":  nonEmptyToken,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"baseUrl", "userId"},
		},
		TypeMCPJungle: {
			Name:            "MCPJungle",
			Description:     "Self-hosted MCP tool server registry",
			RequiredFields:  []string{"serverUrl"},
			OptionalFields:  []string{"bearerToken"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWriteAdmin,
			FieldValidators: map[string]*regexp.Regexp{
				"serverUrl":   urlPattern,
				"bearerToken": nonEmptyToken,
			},
			PublicFields: []string{"serverUrl"},
		},
		TypeFAL: {
			Name:            "FAL",
			Description:     "FAL media generation platform",
			RequiredFields:  []string{"apiKey"},
			OptionalFields:  []string{"baseUrl"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWrite,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":  falKey,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"baseUrl"},
		},
		TypeModelsLab: {
			Name:            "ModelsLab",
			Description:     "ModelsLab media generation API",
			RequiredFields:  []string{"apiKey"},
			OptionalFields:  []string{"baseUrl"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWrite,
			FieldValidators: map[string]*regexp.Regexp{
				"apiKey":  nonEmptyToken,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"baseUrl"},
		},
		TypeAWS: {
			Name:            "AWS",
			Description:     "Amazon Web Services account credentials",
			RequiredFields:  []string{"accessKeyId", "secretAccessKey"},
			OptionalFields:  []string{"region", "sessionToken", "automationUrl"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWriteAdmin,
			FieldValidators: map[string]*regexp.Regexp{
				"accessKeyId":   awsAccessKeyID,
				"region":        awsRegion,
				"automationUrl": urlPattern,
			},
			PublicFields: []string{"region", "automationUrl"},
		},
		TypeGitHub: {
			Name:            "GitHub",
			Description:     "GitHub personal access token",
			RequiredFields:  []string{"token"},
			OptionalFields:  []string{"org", "baseUrl"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWriteAdmin,
			FieldValidators: map[string]*regexp.Regexp{
				"token":   githubToken,
				"org":     identifier,
				"baseUrl": urlPattern,
			},
			PublicFields: []string{"org", "baseUrl"},
		},
		TypeSupabase: {
			Name:            "Supabase",
			Description:     "Supabase project service credentials",
			RequiredFields:  []string{"projectUrl", "serviceRoleKey"},
			OptionalFields:  []string{"anonKey"},
			DefaultScopes:   readOnly,
			SupportedScopes: readWriteAdmin,
			FieldValidators: map[string]*regexp.Regexp{
				"projectUrl":     supabaseProjectURL,
				"serviceRoleKey": nonEmptyToken,
				"anonKey":        nonEmptyToken,
			},
			PublicFields: []string{"projectUrl"},
		},
	}}
}
