package declaration

var genders = []string{"male", "female", "unknown"}

// DefaultFields is the field set of the stock birth and death forms.
// Deployments extend it through the rules file.
func DefaultFields() []FieldSpec {
	fields := []FieldSpec{
		{Path: "child.name", Type: TypeName},
		{Path: "child.dob", Type: TypeDate, NotFuture: true},
		{Path: "child.gender", Type: TypeEnum, Values: genders},
		{Path: "child.placeOfBirth", Type: TypeEnum, Values: []string{"HEALTH_FACILITY", "PRIVATE_HOME", "OTHER"}},
		{Path: "child.birthLocation", Type: TypeLocation},
		{Path: "child.weightAtBirth", Type: TypeText},

		{Path: "informant.relation", Type: TypeEnum, Values: []string{
			"MOTHER", "FATHER", "GRANDFATHER", "GRANDMOTHER", "BROTHER", "SISTER", "SPOUSE", "SON", "DAUGHTER", "OTHER",
		}},
		{Path: "informant.email", Type: TypeText},
		{Path: "informant.phoneNo", Type: TypeText},

		{Path: "deceased.dateOfDeath", Type: TypeDate, NotFuture: true},
		{Path: "deceased.placeOfDeath", Type: TypeLocation},
		{Path: "deceased.causeOfDeath", Type: TypeText},
		{Path: "deceased.maritalStatus", Type: TypeEnum, Values: []string{"SINGLE", "MARRIED", "WIDOWED", "DIVORCED", "SEPARATED", "NOT_STATED"}},
	}
	for _, role := range []string{"mother", "father", "informant", "deceased", "spouse"} {
		fields = append(fields, IdentityFields(role)...)
	}
	return fields
}

// IdentityFields returns the identity triple of role plus its optional gender.
func IdentityFields(role string) []FieldSpec {
	return []FieldSpec{
		{Path: role + ".name", Type: TypeName},
		{Path: role + ".dob", Type: TypeDate, NotFuture: true},
		{Path: role + ".nid", Type: TypeNID},
		{Path: role + ".gender", Type: TypeEnum, Values: genders},
	}
}
