// Package inbound turns broker envelopes into conversation messages.
//
// Every envelope is classified into exactly one Kind by a priority-ordered
// list of structural predicates. Each predicate checks the type tag and the
// sub-fields that variant cannot do without, so a malformed payload that
// half-matches several shapes still lands in one place. Envelopes that match
// nothing are Unrecognized and are dropped by the caller.
//
// Local message ids are the server message_id plus a role suffix:
//
//	TEXT, INTERACTIVE_BUTTON, IMAGE, AUDIO, DOCUMENT, LOCATION  {id}-bot
//	INTERACTIVE_LIST                                            {id}-list
//	FORMS_REQUEST                                               {id}-form
//	INTERACTIVE_LIST_REPLY                                      {id}
//
// A list reply is the server echoing the user's own answer, so it keeps the
// bare correlation id of the optimistic message it confirms.
package inbound
