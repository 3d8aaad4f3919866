//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package service

import (
	"github.com/dipeo/dipeo-go/apikey"
	"github.com/dipeo/dipeo-go/condition"
	"github.com/dipeo/dipeo-go/conversation"
	"github.com/dipeo/dipeo-go/fileio"
	"github.com/dipeo/dipeo-go/llm"
	"github.com/dipeo/dipeo-go/notion"
	"github.com/dipeo/dipeo-go/observer"
	"github.com/dipeo/dipeo-go/state"
)

// Well-known keys for the runtime's standard services. Handlers resolve
// these at execution time; only the services a diagram actually needs have
// to be bound.
var (
	LLMService          = NewKey[llm.Service]("LLM_SERVICE")
	FileService         = NewKey[fileio.Service]("FILE_SERVICE")
	StateStore          = NewKey[state.Store]("STATE_STORE")
	APIKeyService       = NewKey[apikey.Service]("API_KEY_SERVICE")
	ConversationManager = NewKey[*conversation.Manager]("CONVERSATION_MANAGER")
	MessageRouter       = NewKey[observer.MessageRouter]("MESSAGE_ROUTER")
	NotionService       = NewKey[notion.Service]("NOTION_SERVICE")
	ConditionEvaluation = NewKey[condition.Evaluator]("CONDITION_EVALUATION_SERVICE")
)
