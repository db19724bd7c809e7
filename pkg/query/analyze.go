/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// analyze.go is the static-analysis pass between parsing and planning:
// it computes each bind's plural attribute and checks every "$name"
// parameter reference against the request's supplied parameter map,
// so execution never discovers a missing parameter halfway through.
package query

// Analyze computes plural flags across q's chain tree and validates
// that every parameter reference in q has a matching entry in params.
func Analyze(q *Query, params map[string]bool) error {
	markPlural(&q.Chain)
	return checkParams(&q.Chain, params)
}

func markPlural(c *Chain) {
	c.Plural = !headHasFirst(c.Head)
	for i := range c.Subchains {
		markPlural(&c.Subchains[i])
	}
}

func headHasFirst(h ChainHead) bool {
	for _, s := range h.Steps {
		if s.First {
			return true
		}
	}
	return false
}

func checkParams(c *Chain, params map[string]bool) error {
	if err := checkHeadParams(c.Head, params); err != nil {
		return err
	}
	for i := range c.Subchains {
		if err := checkParams(&c.Subchains[i], params); err != nil {
			return err
		}
	}
	return nil
}

func checkHeadParams(h ChainHead, params map[string]bool) error {
	if h.RootKind == RootValue {
		if err := checkValueParam(h.RootValue, params); err != nil {
			return err
		}
	}
	if h.RootKind == RootSearch {
		if err := checkStrParam(h.RootSearch, params); err != nil {
			return err
		}
	}
	for _, s := range h.Steps {
		if err := checkStepParams(s, params); err != nil {
			return err
		}
	}
	return nil
}

func checkStepParams(s Step, params map[string]bool) error {
	switch s.Kind {
	case StepMove:
		if err := checkStrParam(s.Predicate, params); err != nil {
			return err
		}
		if s.Filter != nil {
			return checkFilterParams(s.Filter, params)
		}
	case StepRecurse:
		for _, sub := range s.RecurseSteps {
			if err := checkStepParams(sub, params); err != nil {
				return err
			}
		}
	case StepJunction:
		for _, sub := range s.JunctionChains {
			if err := checkHeadParams(sub, params); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFilterParams(f *FilterExpr, params map[string]bool) error {
	switch f.Kind {
	case FilterExists:
		if err := checkHeadParams(f.Subchain, params); err != nil {
			return err
		}
		if f.Suffix != nil {
			if f.Suffix.IsLike {
				return checkStrParam(f.Suffix.Like, params)
			}
			if f.Suffix.HasCmp {
				return checkValueParam(f.Suffix.CmpWith, params)
			}
		}
	case FilterJunction:
		for _, sub := range f.Subexprs {
			if err := checkFilterParams(sub, params); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkValueParam(v Value, params map[string]bool) error {
	if v.IsParameter && !params[v.Parameter] {
		return &CompileError{Kind: ErrUnknownParameter, Pos: -1, Msg: "parameter $" + v.Parameter + " is not in the request's parameter map"}
	}
	return nil
}

func checkStrParam(v StrValue, params map[string]bool) error {
	if v.IsParameter && !params[v.Parameter] {
		return &CompileError{Kind: ErrUnknownParameter, Pos: -1, Msg: "parameter $" + v.Parameter + " is not in the request's parameter map"}
	}
	return nil
}
