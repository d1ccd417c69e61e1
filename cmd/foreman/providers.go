package main

// Provider blank imports — each import activates a self-registering session
// provider. Add new providers here as they are implemented.

import (
	_ "github.com/forgeline/foreman/internal/adapter/anthropic"
	_ "github.com/forgeline/foreman/internal/adapter/mocksession"
)
