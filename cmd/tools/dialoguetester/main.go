package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/tavern-chatter/backend/internal/config"
	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("配置加载失败", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Log)
	if envErr != nil {
		log.Warn("无法加载 .env，改用系统环境变量", "error", envErr)
	}

	mode := flag.String("mode", "", "测试模式: conversation 或 reply")
	participants := flag.String("participants", "", "conversation 模式的角色 ID，逗号分隔")
	character := flag.String("character", "", "reply 模式的角色 ID")
	text := flag.String("text", "", "reply 模式中玩家说的话")
	sceneName := flag.String("scene", "Quiet Evening", "场景名称")
	atmosphere := flag.String("atmosphere", "calm", "场景氛围")
	dump := flag.Bool("dump", false, "打印编译后的提示词")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "conversation" && *mode != "reply" {
		flag.Usage()
		log.Error("请通过 -mode=conversation 或 -mode=reply 指定测试模式")
		os.Exit(2)
	}

	registry, err := persona.LoadRegistry(cfg.Persona.File)
	if err != nil {
		log.Error("角色目录加载失败", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	generator, err := cfg.AI.NewGenerator(ctx)
	if err != nil {
		log.Error("生成后端初始化失败", "error", err)
		os.Exit(1)
	}

	compiler := engine.NewCompiler(engine.CompilerConfig{
		HistoryWindow:   cfg.Dialogue.HistoryWindow,
		MaxParticipants: cfg.Dialogue.MaxParticipants,
	})
	orch := engine.NewOrchestrator(registry, generator, engine.Options{
		Compiler:      compiler,
		Decoding:      cfg.AI.Options(),
		ReplyDecoding: cfg.AI.ReplyOptions(),
		Logger:        log,
	})
	scene := dialogue.Scene{Name: *sceneName, Atmosphere: *atmosphere}

	log.Info("开始测试", "mode", *mode, "backend", generator.Name())

	switch *mode {
	case "conversation":
		ids := splitIDs(*participants)
		if *dump {
			dumpConversationPrompt(compiler, registry, ids, scene)
		}
		runConversation(ctx, orch, ids, scene)
	case "reply":
		if *dump {
			dumpReplyPrompt(compiler, registry, *character, *text, scene)
		}
		runReply(ctx, orch, *character, *text, scene)
	}
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func runConversation(ctx context.Context, orch *engine.Orchestrator, ids []string, scene dialogue.Scene) {
	result, err := orch.GenerateConversation(ctx, engine.ConversationRequest{ParticipantIDs: ids, Scene: scene})
	if err != nil {
		fmt.Fprintf(os.Stderr, "请求无效: %v\n", err)
		os.Exit(2)
	}

	for _, turn := range result.Turns {
		fmt.Printf("[%s] %s: %s\n", turn.CreatedAt.Format(time.TimeOnly), turn.SpeakerID, turn.Text)
	}
	printOutcome(result.Fallback, result.FailureKind)
}

func runReply(ctx context.Context, orch *engine.Orchestrator, character, text string, scene dialogue.Scene) {
	result, err := orch.GenerateReply(ctx, engine.ReplyRequest{PersonaID: character, PlayerText: text, Scene: scene})
	if err != nil {
		fmt.Fprintf(os.Stderr, "请求无效: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("%s: %s\n", result.Persona.Name, result.Text)
	printOutcome(result.Fallback, result.FailureKind)
}

func printOutcome(fallback bool, kind string) {
	if fallback {
		fmt.Printf("-- 使用兜底台词 (%s)\n", kind)
		return
	}
	fmt.Println("-- 生成成功")
}

func dumpConversationPrompt(compiler *engine.Compiler, registry *persona.Registry, ids []string, scene dialogue.Scene) {
	var participants []persona.Persona
	for _, id := range ids {
		if p, ok := registry.Get(id); ok {
			participants = append(participants, p)
		}
	}
	prompt, err := compiler.CompileConversation(participants, scene, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "提示词编译失败: %v\n", err)
		return
	}
	fmt.Printf("===== prompt =====\n%s\n==================\n", prompt)
}

func dumpReplyPrompt(compiler *engine.Compiler, registry *persona.Registry, character, text string, scene dialogue.Scene) {
	p, ok := registry.Get(character)
	if !ok {
		fmt.Fprintf(os.Stderr, "未知角色: %s\n", character)
		return
	}
	prompt, err := compiler.CompileReply(p, text, scene, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "提示词编译失败: %v\n", err)
		return
	}
	fmt.Printf("===== prompt =====\n%s\n==================\n", prompt)
}
