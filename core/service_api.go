package core

import (
	"context"

	"pkt.systems/adjutant/schema"
)

// Service is the transport-agnostic API for running turns and managing
// task memory and transcripts.
type Service interface {
	RunTurn(ctx context.Context, req schema.TurnRequest) (schema.TurnResponse, error)

	UpsertTask(ctx context.Context, req schema.UpsertTaskRequest) (schema.UpsertTaskResponse, error)
	AppendTaskNote(ctx context.Context, req schema.AppendTaskNoteRequest) error
	CompleteTask(ctx context.Context, req schema.CompleteTaskRequest) (schema.CompleteTaskResponse, error)
	ListTasks(ctx context.Context, req schema.ListTasksRequest) (schema.ListTasksResponse, error)
	TouchTask(ctx context.Context, userID schema.UserID, taskID schema.TaskID, action string)

	AppendTranscript(ctx context.Context, req schema.AppendTranscriptRequest) error
	LoadTranscript(ctx context.Context, req schema.LoadTranscriptRequest) (schema.LoadTranscriptResponse, error)
	ClearTranscript(ctx context.Context, req schema.ClearTranscriptRequest) error
}
