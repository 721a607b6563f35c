package cli

import (
	"fmt"
	"io"
	"strings"
)

// Commands are the zkgate-client subcommands, in usage order.
var Commands = []string{"info", "programs", "register", "remove", "execute", "prove", "verify", "token", "completion"}

var commandFlags = map[string]string{
	"register": "--elf --zkvm --id --name --compiler-version",
	"execute":  "--id --input --input-file",
	"prove":    "--id --input --input-file --out",
	"verify":   "--id --proof --proof-file",
	"token":    "--subject --role --ttl",
}

// WriteCompletion writes a completion script for shell. Only bash and zsh are
// supported; zsh loads the bash script through bashcompinit.
func WriteCompletion(w io.Writer, shell string) error {
	var b strings.Builder
	switch shell {
	case "bash":
	case "zsh":
		b.WriteString("autoload -U +X bashcompinit && bashcompinit\n")
	default:
		return fmt.Errorf("unsupported shell %q (supported: bash, zsh)", shell)
	}

	b.WriteString(`_zkgate_client() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    case "${prev}" in
        --elf|--input-file|--proof-file|--out)
            COMPREPLY=( $(compgen -f -- "${cur}") )
            return 0
            ;;
        --zkvm)
            COMPREPLY=( $(compgen -W "sp1 risc0" -- "${cur}") )
            return 0
            ;;
    esac

    local cmd=""
    for word in "${COMP_WORDS[@]:1}"; do
        case "${word}" in
            -*) ;;
            *) cmd="${word}"; break ;;
        esac
    done

    case "${cmd}" in
`)
	for _, c := range Commands {
		flags, ok := commandFlags[c]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "        %s)\n            COMPREPLY=( $(compgen -W %q -- \"${cur}\") )\n            ;;\n", c, flags)
	}
	fmt.Fprintf(&b, `        "")
            COMPREPLY=( $(compgen -W %q -- "${cur}") )
            ;;
    esac
}
complete -F _zkgate_client zkgate-client
`, strings.Join(Commands, " ")+" --addr --token")

	_, err := io.WriteString(w, b.String())
	return err
}
