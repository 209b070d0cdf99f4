package telemetry

import "os"

// IsFrozenHost reports whether the process runs on a platform that may
// freeze it between invocations, making fire-and-forget export unsafe.
// Covered platforms: AWS Lambda, Azure Functions, Vercel and GitHub
// Codespaces.
func IsFrozenHost() bool {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return true
	}
	if os.Getenv("FUNCTIONS_WORKER_RUNTIME") != "" {
		return true
	}
	if os.Getenv("VERCEL") != "" {
		return true
	}
	if os.Getenv("CODESPACES") == "true" {
		return true
	}
	return false
}

// lambdaRuntimeAPI returns the Lambda runtime API host:port when present.
// The deferred processor long-polls it to learn when the sandbox thaws.
func lambdaRuntimeAPI() string {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API")
}
