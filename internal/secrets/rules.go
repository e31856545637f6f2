package secrets

// DefaultRules covers credentials likely to surface in generated SQL,
// driver error messages and model replies.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "database-url",
			Description: "Database connection URL with credentials",
			Pattern:     `(?i)(?:postgres(?:ql)?|mysql|sqlserver|mongodb|redis)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
			Severity:    "high",
		},
		{
			ID:          "dsn-password",
			Description: "Key/value DSN password",
			Pattern:     `(?i)\bpassword\s*=\s*[^\s;'"]+`,
			Severity:    "high",
		},
		{
			ID:          "sql-password-literal",
			Description: "Password literal in a user management statement",
			Pattern:     `(?i)\b(?:identified\s+by|with\s+password|password)\s+'[^']*'`,
			Keywords:    []string{"password", "identified"},
			Severity:    "high",
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"api", "key"},
			Severity:    "high",
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI style API key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`,
			Severity:    "high",
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`,
			Severity:    "high",
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity:    "medium",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`,
			Severity:    "medium",
		},
	}
}
