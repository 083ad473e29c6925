package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/chatmem/chatmem/pkg/engine"
	"github.com/chatmem/chatmem/pkg/log"
	"github.com/chatmem/chatmem/pkg/memory"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdRemember = "!remember"
	cmdSearch   = "!search"
	cmdList     = "!list"
	cmdShow     = "!show"
	cmdDelete   = "!delete"
	cmdSummary  = "!summary"
	cmdTags     = "!tags"
	cmdTitle    = "!title"
	cmdBio      = "!bio"
	cmdStats    = "!stats"
)

// Command-line help text
const helpText = `
chatmem Client - Command Reference:
-----------------------------------------
!help              - Show this help message
!remember <text>   - Store a new memory with the given summary
!search <query>    - Retrieve memories relevant to the query
!list              - List stored memories, newest first
!show <id>         - Show a memory with its messages
!delete <id>       - Delete a memory
!summary <id>      - Generate a summary for a memory's transcript
!tags <id>         - Suggest tags for a memory's transcript
!title <id>        - Suggest a title for a memory's transcript
!bio [text]        - Show or set the user biography
!stats             - Show cache statistics
!quit              - Exit the application

Notes:
- Regular text input is treated as a search query
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".chatmem_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// Pick up OPENAI_API_KEY and CHATMEM_* overrides from a local .env.
	_ = godotenv.Load()

	log.Setup(log.Config{
		Level:  log.InfoLevel,
		Format: log.TextFormat,
	})

	log.Info("Starting chatmem client")

	eng, err := engine.NewEngineFromConfig(*configPath)
	if err != nil {
		log.Error("Failed to initialize chatmem engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	runCLI(eng, *stdinMode)
}

// runCLI starts the command-line interface for user interaction
func runCLI(eng *engine.Engine, stdinMode bool) {
	if stdinMode {
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("\n=== chatmem Client (stdin mode) ===")

		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			// Skip comments and shebang lines for stdin-based testing
			if strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
				continue
			}

			if input == cmdQuit {
				fmt.Println("Goodbye!")
				return
			}

			fmt.Print("chatmem> ", input, "\n")
			processCommand(input, eng)
		}

		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	// Interactive mode
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	line.SetCompleter(func(line string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdRemember, cmdSearch, cmdList,
			cmdShow, cmdDelete, cmdSummary, cmdTags, cmdTitle, cmdBio, cmdStats}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== chatmem Client ===")
	fmt.Println("Type !help for available commands.")

	for {
		input, err := line.Prompt("chatmem> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}

		processCommand(input, eng)
	}
}

// processCommand handles a single command.
func processCommand(input string, eng *engine.Engine) {
	ctx := context.Background()

	if !strings.HasPrefix(input, "!") {
		search(ctx, eng, input)
		return
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdRemember:
		if arg == "" {
			fmt.Println("Memory content required")
			return
		}
		mem := &memory.ChatMemory{Summary: arg}
		if err := eng.SaveMemory(ctx, mem); err != nil {
			fmt.Printf("Error storing memory: %v\n", err)
			return
		}
		fmt.Printf("Stored memory %s (key terms: %s)\n", mem.ID, strings.Join(mem.KeyTerms, ", "))

	case cmdSearch:
		if arg == "" {
			fmt.Println("Search query required")
			return
		}
		search(ctx, eng, arg)

	case cmdList:
		memories, err := eng.Store().ListMemories(ctx)
		if err != nil {
			fmt.Printf("Error listing memories: %v\n", err)
			return
		}
		if len(memories) == 0 {
			fmt.Println("No memories stored.")
			return
		}
		for _, mem := range memories {
			title := mem.Title
			if title == "" {
				title = mem.Summary
			}
			fmt.Printf("%s  %s  %s\n", mem.ID, mem.LastMessageAt.Format("2006-01-02 15:04"), title)
		}

	case cmdShow:
		if arg == "" {
			fmt.Println("Memory ID required")
			return
		}
		mem, err := eng.Store().GetMemory(ctx, arg)
		if err != nil {
			fmt.Printf("Error loading memory: %v\n", err)
			return
		}
		fmt.Printf("Title:    %s\n", mem.Title)
		fmt.Printf("Summary:  %s\n", mem.Summary)
		fmt.Printf("Tags:     %s\n", strings.Join(mem.Tags, ", "))
		fmt.Printf("KeyTerms: %s\n", strings.Join(mem.KeyTerms, ", "))
		fmt.Printf("Embedded: %v\n", mem.HasEmbedding())
		for _, msg := range mem.Messages {
			fmt.Printf("  [%s] %s\n", msg.Role, msg.Text())
		}

	case cmdDelete:
		if arg == "" {
			fmt.Println("Memory ID required")
			return
		}
		if err := eng.DeleteMemory(ctx, arg); err != nil {
			fmt.Printf("Error deleting memory: %v\n", err)
			return
		}
		fmt.Println("Deleted.")

	case cmdSummary:
		generate(ctx, arg, func(id string) (string, error) { return eng.GenerateSummary(ctx, id) })

	case cmdTitle:
		generate(ctx, arg, func(id string) (string, error) { return eng.GenerateChatTitle(ctx, id) })

	case cmdTags:
		generate(ctx, arg, func(id string) (string, error) {
			tags, err := eng.GenerateTags(ctx, id)
			return strings.Join(tags, ", "), err
		})

	case cmdBio:
		if arg == "" {
			bio, err := eng.Store().GetBio(ctx)
			if err != nil {
				fmt.Printf("Error loading bio: %v\n", err)
				return
			}
			if bio == "" {
				fmt.Println("No bio set.")
				return
			}
			fmt.Println(bio)
			return
		}
		if err := eng.Store().SetBio(ctx, arg); err != nil {
			fmt.Printf("Error setting bio: %v\n", err)
			return
		}
		fmt.Println("Bio updated.")

	case cmdStats:
		stats := eng.CacheStats()
		fmt.Printf("Cache: %d entries, %d bytes, %d hits, %d misses\n",
			stats.TotalEntries, stats.TotalSize, stats.Hits, stats.Misses)
		for tag, count := range stats.EntriesByTag {
			fmt.Printf("  tag %-10s %d\n", tag, count)
		}

	default:
		fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}
}

func search(ctx context.Context, eng *engine.Engine, query string) {
	injection := eng.RetrieveContext(ctx, query)
	if len(injection.RelevantMemories) == 0 {
		fmt.Println("No relevant memories found.")
		return
	}
	for _, match := range injection.RelevantMemories {
		fmt.Printf("%.3f  %s  %s\n", match.Score, match.MemoryID, match.Summary)
		if len(match.MatchedTerms) > 0 {
			fmt.Printf("       matched terms: %s\n", strings.Join(match.MatchedTerms, ", "))
		}
	}
}

func generate(ctx context.Context, id string, fn func(string) (string, error)) {
	if id == "" {
		fmt.Println("Memory ID required")
		return
	}
	result, err := fn(id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(result)
}
