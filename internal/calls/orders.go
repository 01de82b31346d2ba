package calls

import (
	"fmt"
	"regexp"
	"strings"
)

// CallTemplate describes how a discharge order turns into scheduled calls.
// PromptTemplate supports exactly two placeholders: {patient_name} and
// {discharge_order}. Anything else fails validation before substitution.
type CallTemplate struct {
	TimingSpec     string
	CallType       CallType
	Priority       int
	PromptTemplate string
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

var allowedPlaceholders = map[string]bool{
	"patient_name":    true,
	"discharge_order": true,
}

// Validate checks the template before any substitution happens.
func (t CallTemplate) Validate() error {
	if strings.TrimSpace(t.TimingSpec) == "" {
		return fmt.Errorf("%w: template timing spec is empty", ErrValidation)
	}
	if strings.TrimSpace(t.PromptTemplate) == "" {
		return fmt.Errorf("%w: template prompt is empty", ErrValidation)
	}
	if t.Priority < PriorityUrgent || t.Priority > PriorityRoutine {
		return fmt.Errorf("%w: template priority %d out of range", ErrValidation, t.Priority)
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(t.PromptTemplate, -1) {
		if !allowedPlaceholders[m[1]] {
			return fmt.Errorf("%w: unknown placeholder {%s}", ErrValidation, m[1])
		}
	}
	return nil
}

// RenderPrompt substitutes placeholders with patient data.
func (t CallTemplate) RenderPrompt(patientName, dischargeOrder string) string {
	r := strings.NewReplacer(
		"{patient_name}", patientName,
		"{discharge_order}", dischargeOrder,
	)
	return r.Replace(t.PromptTemplate)
}

// DischargeOrder is a named, procedure-specific instruction with an optional
// follow-up call template.
type DischargeOrder struct {
	ID             string
	Label          string
	DischargeOrder string

	GeneratesCalls bool
	Template       *CallTemplate
}

// Catalog holds the discharge-order set for a procedure. The default catalog
// is the venous malformation order set.
type Catalog struct {
	orders []DischargeOrder
}

func NewCatalog(orders []DischargeOrder) *Catalog {
	return &Catalog{orders: orders}
}

// DefaultCatalog returns the venous malformation discharge-order set.
func DefaultCatalog() *Catalog {
	return NewCatalog(vmOrders)
}

// Get returns the order with the given id.
func (c *Catalog) Get(id string) (DischargeOrder, error) {
	for _, o := range c.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return DischargeOrder{}, fmt.Errorf("%w: discharge order %q", ErrNotFound, id)
}

// All returns every order in catalog order.
func (c *Catalog) All() []DischargeOrder {
	out := make([]DischargeOrder, len(c.orders))
	copy(out, c.orders)
	return out
}

var vmOrders = []DischargeOrder{
	{
		ID:             "vm_discharge",
		Label:          "Venous Malformation Discharge Order",
		DischargeOrder: "May discharge patient home under the care of a responsible parent/legal guardian after 1.5 hours if patient meets discharge criteria: Stable vital signs, Ambulatory or at pre-procedure status, Tolerating oral intake, Patient has voided at least once, Puncture site stable without bleeding.",
	},
	{
		ID:             "vm_symptoms",
		Label:          "Symptoms to Report",
		DischargeOrder: "Contact Primary Care or Specialty Care Doctor for: Temperature over 100.5, Pain not relieved by medication, Difficulty breathing, Nausea/Vomiting, Drainage or foul odor from dressing/incision, painful swelling at the incision site, excessive discoloration of the skin. In Case of an urgent concern or emergency, call 911 or come to the Egleston Emergency Room.",
	},
	{
		ID:             "vm_compression",
		Label:          "Compression Bandage Instructions",
		DischargeOrder: "Leave the compression bandage on for 24 hours and then wear as much as can be tolerated for 7 days.",
		GeneratesCalls: true,
		Template: &CallTemplate{
			TimingSpec:     "24_hours_after_discharge",
			CallType:       TypeDischargeReminder,
			Priority:       PriorityImportant,
			PromptTemplate: "You are calling {patient_name} to remind them about their compression bandage. They were instructed: '{discharge_order}'. It's been about 24 hours since their procedure. Ask if they've removed the compression bandage as instructed and if they have any questions about the next steps.",
		},
	},
	{
		ID:             "vm_shower",
		Label:          "Bathing Instructions",
		DischargeOrder: "May shower tomorrow, no bathing or swimming for 5 days.",
	},
	{
		ID:             "vm_activity",
		Label:          "Activity Restrictions",
		DischargeOrder: "Routine, Normal, Elevate the extremity whenever possible. Minimal weight-bearing for 48 hours. Walking only for 7 days. May resume normal activities after 7 days.",
		GeneratesCalls: true,
		Template: &CallTemplate{
			TimingSpec:     "48_hours_after_discharge",
			CallType:       TypeDischargeReminder,
			Priority:       PriorityImportant,
			PromptTemplate: "You are calling {patient_name} about their activity restrictions. You want to remind them: '{discharge_order}'. It's been 48 hours since their procedure. Ask how they're managing the minimal weight-bearing restriction and if they have any questions about resuming normal activities.",
		},
	},
	{
		ID:             "vm_school",
		Label:          "Return to School/Daycare",
		DischargeOrder: "May Return to School/Daycare: 6/23/2025",
		GeneratesCalls: true,
		Template: &CallTemplate{
			TimingSpec:     "day_before_date:2025-06-23",
			CallType:       TypeDischargeReminder,
			Priority:       PriorityImportant,
			PromptTemplate: "You are calling {patient_name} to remind them about returning to school/daycare. They were told: '{discharge_order}'. Tomorrow is the day they may return to school or daycare. Ask if they're feeling ready and if they have any concerns about returning.",
		},
	},
	{
		ID:             "vm_medication",
		Label:          "Medication Instructions",
		DischargeOrder: "Starting 8 hours from last Toradol dose (unless on anticoagulation therapy), take ibuprofen per the instructions on the medication bottle for 7 days, regardless of whether or not your child is having pain. Pain is usually more severe 5-15 days after the procedure. In approximately 14 days, you are likely to feel firm nodules in the area of the venous malformation. These represent scar tissue.",
		GeneratesCalls: true,
		Template: &CallTemplate{
			TimingSpec:     "daily_for_3_days_starting_8_hours_after_discharge",
			CallType:       TypeMedicationReminder,
			Priority:       PriorityImportant,
			PromptTemplate: "You are calling {patient_name} about their medication schedule. They were instructed: '{discharge_order}'. This is a reminder to take their ibuprofen as prescribed. Ask if they've been taking it regularly and if they have any questions about the medication or pain management.",
		},
	},
	{
		ID:             "vm_bleomycin",
		Label:          "Bleomycin Precautions",
		DischargeOrder: "Please do not remove EKG leads and any other adhesive for 48 hours. Also, bleomycin can cause a transient rash. If your child develops a rash/skin discoloration, please notify the Vascular Anomalies Clinic (404 785-8926). The rash/skin discoloration can take weeks to months to resolve.",
		GeneratesCalls: true,
		Template: &CallTemplate{
			TimingSpec:     "daily_for_2_days_starting_12_hours_after_discharge",
			CallType:       TypeDischargeReminder,
			Priority:       PriorityImportant,
			PromptTemplate: "You are calling {patient_name} about their EKG leads and bleomycin precautions. They were instructed: '{discharge_order}'. This is a daily reminder to keep the EKG leads on for the full 48 hours. Ask if they've kept the leads on and if they've noticed any skin changes or rash.",
		},
	},
}
