package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pinnedBaseImagePolicy(),
		noRootRuntimePolicy(),
	}
}

// pinnedBaseImagePolicy flags stages built from a floating image.
func pinnedBaseImagePolicy() Policy {
	return Policy{
		Name:        "pinned-base-image",
		Description: "Stages should start from an image pinned to a tag other than latest or to a digest",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"reproducibility"},
		Rego: `package dofigen.policies.pinned

stages contains entry if {
	input.fromImage
	entry := [["fromImage"], input.fromImage]
}

stages contains entry if {
	some name, builder in input.builders
	builder.fromImage
	entry := [["builders", name, "fromImage"], builder.fromImage]
}

digested(image) if contains(image, "@")

tagged(image) if regex.match(":[^/:]+$", image)

floating(image) if {
	not digested(image)
	not tagged(image)
}

floating(image) if {
	not digested(image)
	endswith(image, ":latest")
}

deny contains violation if {
	some entry in stages
	floating(entry[1])
	violation := {
		"message": sprintf("image %s is not pinned to a tag or a digest", [entry[1]]),
		"path": entry[0],
	}
}`,
	}
}

// noRootRuntimePolicy flags a runtime stage that keeps running as root.
func noRootRuntimePolicy() Policy {
	return Policy{
		Name:        "no-root-runtime",
		Description: "The runtime stage must not run as root",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security"},
		Rego: `package dofigen.policies.root

root_user(user) if user == "0"

root_user(user) if user == "root"

root_user(user) if startswith(user, "0:")

root_user(user) if startswith(user, "root:")

deny contains violation if {
	root_user(input.user)
	violation := {
		"message": sprintf("the runtime stage runs as %s", [input.user]),
		"path": ["user"],
	}
}`,
	}
}
