// Package policy lints resolved descriptions with Open Policy Agent (OPA)
// Rego policies.
//
// Each policy is a Rego module whose deny set lists the violations. The
// input document is the serialized description, using the same keys as a
// description file (fromImage, builders, user, copy...). A deny entry is
// either a string or an object:
//
//	deny contains violation if {
//		input.user == "root"
//		violation := {
//			"message": "the runtime stage runs as root",
//			"path": ["user"],
//			"severity": "error",
//		}
//	}
//
// Violations are returned as lint messages, so they are reported the same
// way as the structural lint diagnostics.
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	messages, err := engine.Evaluate(ctx, description)
//
// # Built-in Policies
//
//   - pinned-base-image (warning): a stage image has neither a tag nor a
//     digest, or uses the latest tag without a digest.
//   - no-root-runtime (error): the runtime stage user is root.
//
// Custom .rego files are named after the file and default to the warning
// severity; a "# severity: error" comment raises it. JSON files hold a
// whole Policy object.
package policy
