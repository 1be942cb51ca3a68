package engine

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// runCachedProgram executes a compiled condition program against env and
// coerces the result to bool (programs are compiled with expr.AsBool(),
// so a non-bool result means the environment shape changed since the
// program was cached).
func runCachedProgram(program *vm.Program, env map[string]interface{}) (bool, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}
