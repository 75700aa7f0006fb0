package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirikou/kirikou/internal/inference"
	"github.com/kirikou/kirikou/internal/logging"
	"github.com/kirikou/kirikou/internal/models"
)

// MaxIterationsOutput is the answer returned when the tool loop does not converge
const MaxIterationsOutput = "Agent stopped due to max iterations."

// emitFunc publishes execution events. It fails once the consumer is gone.
type emitFunc func(ops ...models.LogOp) error

// Executor runs the function-calling loop: call the model, run any tools it
// asks for, feed the observations back and repeat until it answers
type Executor struct {
	model  inference.ChatModel
	tools  []Tool
	byName map[string]Tool
	config *Config
	logger *zap.SugaredLogger
}

// NewExecutor creates an executor over model and tools
func NewExecutor(model inference.ChatModel, tools []Tool, config *Config, logger *zap.SugaredLogger) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	return &Executor{
		model:  model,
		tools:  tools,
		byName: byName,
		config: config,
		logger: logger,
	}
}

// ModelName is the run name of the chat model, e.g. "ChatOpenAI"
func (e *Executor) ModelName() string {
	return e.model.Name()
}

// ToolNames lists the registered tool names
func (e *Executor) ToolNames() []string {
	names := make([]string, len(e.tools))
	for i, t := range e.tools {
		names[i] = t.Name()
	}
	return names
}

// StreamLog runs the agent and streams its execution events. The channel is
// unbuffered and closes when the run ends. A failed run ends with a chunk
// carrying Err.
func (e *Executor) StreamLog(ctx context.Context, input string, history []models.Message) <-chan models.LogChunk {
	out := make(chan models.LogChunk)

	go func() {
		defer close(out)

		emit := func(ops ...models.LogOp) error {
			select {
			case out <- models.LogChunk{Ops: ops}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := e.run(ctx, input, history, emit); err != nil {
			select {
			case out <- models.LogChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

// Invoke runs the agent to completion and returns its answer and intermediate steps
func (e *Executor) Invoke(ctx context.Context, input string, history []models.Message) (*models.Outcome, error) {
	return e.run(ctx, input, history, func(...models.LogOp) error { return ctx.Err() })
}

func (e *Executor) run(ctx context.Context, input string, history []models.Message, emit emitFunc) (*models.Outcome, error) {
	start := time.Now()
	messages := BuildPrompt(e.config.SystemPrompt, history, input)
	specs := e.toolSpecs()
	runs := newRunNames()

	var steps []models.ToolInvocation

	for iteration := 0; iteration < e.config.MaxIterations; iteration++ {
		runName := runs.next(e.model.Name())
		runPath := "/logs/" + runName

		if err := emit(models.LogOp{Op: models.OpAdd, Path: runPath, Value: map[string]interface{}{
			"name":                e.model.Name(),
			"type":                "llm",
			"streamed_output_str": []string{},
		}}); err != nil {
			return nil, err
		}

		result, err := e.model.StreamChat(ctx, &inference.ChatRequest{Messages: messages, Tools: specs}, func(token string) error {
			return emit(models.LogOp{Op: models.OpAdd, Path: runPath + "/streamed_output_str/-", Value: token})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to call model: %w", err)
		}

		if err := emit(models.LogOp{Op: models.OpAdd, Path: runPath + "/final_output", Value: map[string]interface{}{
			"content":    result.Content,
			"tool_calls": result.ToolCalls,
		}}); err != nil {
			return nil, err
		}

		if len(result.ToolCalls) == 0 {
			return e.finish(result.Content, steps, start, emit)
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		turn := make([]models.ToolInvocation, 0, len(result.ToolCalls))
		for _, call := range result.ToolCalls {
			step, err := e.invokeTool(ctx, call, runs, emit)
			if err != nil {
				return nil, err
			}
			turn = append(turn, step)
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    step.Observation,
				ToolCallID: call.ID,
			})
		}
		steps = append(steps, turn...)

		if err := emit(models.LogOp{Op: models.OpAdd, Path: "/streamed_output/-", Value: map[string]interface{}{
			"intermediateSteps": turn,
		}}); err != nil {
			return nil, err
		}
	}

	e.logger.Warnw("Agent reached max iterations", "iterations", e.config.MaxIterations)
	return e.finish(MaxIterationsOutput, steps, start, emit)
}

func (e *Executor) finish(output string, steps []models.ToolInvocation, start time.Time, emit emitFunc) (*models.Outcome, error) {
	final := map[string]interface{}{"output": output}
	if err := emit(models.LogOp{Op: models.OpAdd, Path: "/streamed_output/-", Value: final}); err != nil {
		return nil, err
	}
	if err := emit(models.LogOp{Op: models.OpReplace, Path: "/final_output", Value: final}); err != nil {
		return nil, err
	}

	return &models.Outcome{
		Output:            output,
		IntermediateSteps: steps,
		Duration:          time.Since(start),
	}, nil
}

// invokeTool runs one requested tool call. Unknown tools produce an
// observation telling the model so, rather than failing the run.
func (e *Executor) invokeTool(ctx context.Context, call models.ToolCall, runs *runNames, emit emitFunc) (models.ToolInvocation, error) {
	step := models.ToolInvocation{Tool: call.Name, Input: call.Arguments, CallID: call.ID}

	tool, ok := e.byName[call.Name]
	if !ok {
		e.logger.Warnw("Model requested unknown tool", "tool", call.Name)
		step.Observation = fmt.Sprintf("%s is not a valid tool, try another one.", call.Name)
		return step, nil
	}

	runPath := "/logs/" + runs.next(tool.Name())
	if err := emit(models.LogOp{Op: models.OpAdd, Path: runPath, Value: map[string]interface{}{
		"name":  tool.Name(),
		"input": call.Arguments,
	}}); err != nil {
		return step, err
	}

	log := logging.WithTool(e.logger, tool.Name(), call.Arguments)
	started := time.Now()
	observation, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		log.Errorw("Tool failed", "error", err)
		return step, fmt.Errorf("tool %s failed: %w", tool.Name(), err)
	}
	logging.LogDuration(log, "tool "+tool.Name(), started)

	if err := emit(models.LogOp{Op: models.OpAdd, Path: runPath + "/final_output", Value: map[string]interface{}{
		"output": observation,
	}}); err != nil {
		return step, err
	}

	step.Observation = observation
	return step, nil
}

func (e *Executor) toolSpecs() []inference.ToolSpec {
	specs := make([]inference.ToolSpec, len(e.tools))
	for i, t := range e.tools {
		specs[i] = inference.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return specs
}

// runNames hands out unique run names: the first run of a name is bare and
// later runs are suffixed ":2", ":3", ...
type runNames struct {
	counts map[string]int
}

func newRunNames() *runNames {
	return &runNames{counts: map[string]int{}}
}

func (r *runNames) next(name string) string {
	r.counts[name]++
	if n := r.counts[name]; n > 1 {
		return fmt.Sprintf("%s:%d", name, n)
	}
	return name
}
